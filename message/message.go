// Package message implements the CHAIN messaging protocol: shuffled
// typed-field plaintexts, salted layered encryption bound to a
// ParticipantChain, a routing envelope that chains messages together
// by provenance hash, acknowledgement proofs, and a bounded history
// window that lets a receiver decrypt messages that arrive out of
// order without keeping an unbounded skipped-key cache.
package message

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"errors"
	"math/rand"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"

	"meshveil/chain"
	"meshveil/envelope"
	"meshveil/spaghetti"
)

// Field tags used inside the "plaintext" section. Uppercase
// single-byte tags mark them as application-defined per envelope's reserved-tag
// convention.
const (
	TagText        envelope.Tag = 'T'
	TagHashPointer envelope.Tag = 'H'
	TagPadding     envelope.Tag = 'P'
)

// Field tags used inside the "message", "routing" and "ack" sections.
// Tags are scoped per section, so reusing a byte across sections does
// not create ambiguity.
const (
	tagCiphertext envelope.Tag = 'C'

	tagRoutingSenderHash envelope.Tag = 'S'
	tagRoutingFriendship envelope.Tag = 'F'
	tagRoutingPrevMsgHP  envelope.Tag = 'H'

	tagAckTimestamp envelope.Tag = 'T'
	tagAckProof     envelope.Tag = 'A'
)

var (
	ErrDecryptionFailed = errors.New("message: decryption failed")
	ErrHistoryExhausted = errors.New("message: no history offset could decrypt this message")
	// ErrGapDetected is returned when a message's prev_msg_hp references
	// an earlier message this pipeline has never seen, meaning progress
	// on the channel cannot continue without a retransmission or a new
	// ceremony.
	ErrGapDetected = errors.New("message: prev_msg_hp references an unseen message")
	// ErrChainAdvanceRefused is returned by ProcessAck when the ack
	// proof presented does not match what the sender's own chain state
	// expects; the acknowledged message stays in the pending queue.
	ErrChainAdvanceRefused = errors.New("message: ack proof did not verify, message stays pending")
	// ErrUnknownAck is returned by ProcessAck when the acknowledged
	// timestamp does not match any currently pending message.
	ErrUnknownAck = errors.New("message: ack does not match a pending message")

	domainChaCha    = []byte("meshveil-message-streamkey-v1")
	domainNonce     = []byte("meshveil-message-nonce-v1")
	domainGenesis   = []byte("meshveil-message-genesis-v1")
	domainNetworkID = []byte("meshveil-message-networkid-v1")
)

// historyWindow is how many past advancements a receiver will try
// when a message does not decrypt against the current link, covering
// messages that arrive after the chain has already advanced past
// them.
const historyWindow = chain.HistoryLinks

// gapWarnThreshold is how many history offsets back a message can be
// found at before Decrypt reports it as a gap rather than ordinary
// reordering: past this point enough intervening messages have been
// missed that the caller likely wants to surface it to the user.
const gapWarnThreshold = historyWindow / 4

// Decrypted wraps a successfully decrypted message together with how
// far back in the chain's history it was found, and the ack envelope
// the caller should deliver back to the sender. GapOffset is 0 when
// the message matched the current link (in-order delivery) and
// increases with every intervening Advance the receiver's chain
// underwent before this message arrived.
type Decrypted struct {
	Fields    PlaintextFields
	GapOffset int
	Ack       *envelope.Envelope
	// NetworkID is SPAGHETTIFY(domain_network_id || hash(plaintext)) over
	// the recovered plaintext, suitable as a dedup key for a relay or
	// local queue that must not trust the envelope's wire bytes (which a
	// relay can retransmit byte-for-byte for an already-seen message)
	// before decryption succeeds.
	NetworkID [32]byte
}

// Gap reports whether this message arrived after enough intervening
// chain advances that the caller should treat it as an ordering gap
// rather than routine out-of-order delivery.
func (d Decrypted) Gap() bool { return d.GapOffset > gapWarnThreshold }

// PlaintextFields is the logical content of a CHAIN message before
// its field order is shuffled and it is handed to the envelope codec.
// Callers only need to set Text: Encrypt overwrites
// IncorporatedHashPointer with the hash of the last peer message being
// acknowledged and generates fresh Padding on every call.
type PlaintextFields struct {
	Text []byte
	// IncorporatedHashPointer binds both directions of the
	// conversation: it is the provenance hash of the last message this
	// pipeline received from the peer, distinct from the routing
	// section's prev_msg_hp, which only binds the sender's own chain.
	IncorporatedHashPointer [32]byte
	// Padding is a random length-obscuring blob, 0-255 bytes, generated
	// fresh by Encrypt.
	Padding []byte
}

// pendingMessage is a sent message awaiting acknowledgement: enough
// state to recompute the ack proof the sender expects and to retransmit
// verbatim if the peer never received it.
type pendingMessage struct {
	Timestamp     envelope.NetTime
	Plaintext     []byte
	PlaintextHash [32]byte
	Wire          []byte
	stepAtSend    int
}

// Pipeline drives outgoing and incoming CHAIN messages for one
// conversation direction, holding the local chain and identity used
// to sign and verify envelopes.
type Pipeline struct {
	Chain          *chain.ParticipantChain
	SigningPriv    ed25519.PrivateKey
	PeerVerify     ed25519.PublicKey
	OwnHandleHash  [32]byte
	PeerHandleHash [32]byte
	FriendshipID   [32]byte

	sendPrevPlaintext []byte
	sendStep          int
	lastSentMsgHP     [32]byte
	haveSentAny       bool
	pending           []pendingMessage

	// recvHistory holds the plaintext of every message successfully
	// processed so far, oldest first: recvHistory[i] is the plaintext
	// of the (i+1)-th message. Together with the link array's own
	// shift-and-append behavior this lets the history-window fallback
	// reconstruct exactly which (link, prevPlaintext) pair a message
	// offset advances back was originally salted under.
	recvHistory   [][]byte
	lastRecvMsgHP [32]byte
	haveRecvAny   bool
}

// NewPipeline builds a Pipeline over an already-initialized chain.
// ownHandleHash and friendshipID feed the routing section every
// outgoing message carries; peerHandleHash pins the expected sender of
// incoming messages when known.
func NewPipeline(c *chain.ParticipantChain, signingPriv ed25519.PrivateKey, peerVerify ed25519.PublicKey, ownHandleHash, peerHandleHash, friendshipID [32]byte) *Pipeline {
	return &Pipeline{
		Chain:          c,
		SigningPriv:    signingPriv,
		PeerVerify:     peerVerify,
		OwnHandleHash:  ownHandleHash,
		PeerHandleHash: peerHandleHash,
		FriendshipID:   friendshipID,
	}
}

// Encrypt serializes fields with shuffled field order, derives a
// per-message salt from the chain, encrypts through the stream and
// scratch-pad layers, and wraps the result in a signed envelope
// carrying a routing section that chains it to the previous message.
//
// The underlying chain link advances immediately so that consecutive
// sends stay in step with a receiver that also advances immediately on
// decrypt; what is actually gated on ack receipt is delivery
// confirmation. Encrypt only enqueues the message as pending. Callers
// must feed received acks through ProcessAck to clear the queue; a
// message whose ack never verifies stays in Pending(), whose retained
// wire bytes a caller can retransmit. Encrypt itself never resends.
func (p *Pipeline) Encrypt(fields PlaintextFields) (*envelope.Envelope, error) {
	salt := p.Chain.Salt(p.sendPrevPlaintext)

	padding, err := randomPadding()
	if err != nil {
		return nil, err
	}
	fields.Padding = padding
	fields.IncorporatedHashPointer = p.lastRecvMsgHP

	plainSection := shuffledSection(fields)
	serialized, err := envelope.Marshal(&envelope.Envelope{
		Version:           envelope.Version,
		BackcompatVersion: envelope.BackcompatVersion,
		Sections:          []envelope.Section{plainSection},
	})
	if err != nil {
		return nil, err
	}

	link := p.Chain.CurrentLink()
	ts := envelope.Now()
	streamKey := shake256(append(append([]byte{}, domainChaCha...), link[:]...), 32)
	nonce := deriveNonce(ts, p.OwnHandleHash)

	aead, err := chacha20poly1305.New(streamKey)
	if err != nil {
		return nil, err
	}
	streamCiphertext := aead.Seal(nil, nonce, serialized, nil)

	pad := p.Chain.ScratchPad(link, salt)
	wrapped := xorWithPad(streamCiphertext, pad)

	prevMsgHP := p.lastSentMsgHP
	if !p.haveSentAny {
		prevMsgHP = genesisAnchor(p.FriendshipID)
	}
	routing := envelope.Section{
		Label: "routing",
		Fields: []envelope.Field{
			{Tag: tagRoutingSenderHash, Value: p.OwnHandleHash[:]},
			{Tag: tagRoutingFriendship, Value: p.FriendshipID[:]},
			{Tag: tagRoutingPrevMsgHP, Value: prevMsgHP[:]},
		},
	}
	messageSection := envelope.Section{
		Label:  "message",
		Fields: []envelope.Field{{Tag: tagCiphertext, Value: wrapped}},
	}

	provenance := shake256(concatSections(wrapped, routing), 32)
	var provArr [32]byte
	copy(provArr[:], provenance)

	env := &envelope.Envelope{
		Version:           envelope.Version,
		BackcompatVersion: envelope.BackcompatVersion,
		Timestamp:         ts,
		ProvenanceHash:    provArr,
		Sections:          []envelope.Section{routing, messageSection},
	}
	env.Sign(p.SigningPriv)

	wire, err := envelope.Marshal(env)
	if err != nil {
		return nil, err
	}

	p.Chain.Advance(serialized, ts.ToUnix())
	p.sendStep++
	p.sendPrevPlaintext = serialized
	p.lastSentMsgHP = provArr
	p.haveSentAny = true

	plaintextHash := shake256(serialized, 32)
	var hashArr [32]byte
	copy(hashArr[:], plaintextHash)
	p.pending = append(p.pending, pendingMessage{
		Timestamp:     ts,
		Plaintext:     serialized,
		PlaintextHash: hashArr,
		Wire:          wire,
		stepAtSend:    p.sendStep,
	})

	return env, nil
}

// Decrypt attempts to recover a message from a received envelope. It
// verifies the attached signature first, then tries the current chain
// link, and finally walks back up to historyWindow past links to
// cover out-of-order delivery, reporting how many links back the
// message was ultimately found. On success it returns the ack
// envelope the caller should deliver back to the sender.
func (p *Pipeline) Decrypt(env *envelope.Envelope) (Decrypted, error) {
	if err := env.VerifySignature(); err != nil {
		return Decrypted{}, err
	}
	if len(p.PeerVerify) == ed25519.PublicKeySize && !bytesEqual(env.SignerPublic, p.PeerVerify) {
		return Decrypted{}, ErrDecryptionFailed
	}

	routingSec, ok := env.SectionByLabel("routing")
	if !ok {
		return Decrypted{}, ErrDecryptionFailed
	}
	senderHashBytes, ok := routingSec.Get(tagRoutingSenderHash)
	if !ok || len(senderHashBytes) != 32 {
		return Decrypted{}, ErrDecryptionFailed
	}
	var senderHash [32]byte
	copy(senderHash[:], senderHashBytes)
	if p.PeerHandleHash != ([32]byte{}) && senderHash != p.PeerHandleHash {
		return Decrypted{}, ErrDecryptionFailed
	}
	prevMsgHPBytes, ok := routingSec.Get(tagRoutingPrevMsgHP)
	if !ok || len(prevMsgHPBytes) != 32 {
		return Decrypted{}, ErrDecryptionFailed
	}
	var prevMsgHP [32]byte
	copy(prevMsgHP[:], prevMsgHPBytes)

	sec, ok := env.SectionByLabel("message")
	if !ok {
		return Decrypted{}, ErrDecryptionFailed
	}
	wrapped, ok := sec.Get(tagCiphertext)
	if !ok {
		return Decrypted{}, ErrDecryptionFailed
	}

	if fields, plain, err := p.tryDecryptAt(0, wrapped, env.Timestamp, senderHash); err == nil {
		// In-order delivery: replay the same transcript the sender
		// advanced on, so both chains stay in lockstep for the next
		// message.
		p.Chain.Advance(plain, env.Timestamp.ToUnix())
		p.recvHistory = append(p.recvHistory, plain)
		p.lastRecvMsgHP = env.ProvenanceHash
		p.haveRecvAny = true
		ack := p.buildAckAtOffset(plain, env.Timestamp, 0)
		return Decrypted{Fields: fields, GapOffset: 0, Ack: ack, NetworkID: NetworkID(plain)}, nil
	}

	// History fallback: the chain has already advanced past the link
	// this message was encrypted under, most likely because it is a
	// retransmitted duplicate of a message already processed. Locate
	// it among the retained history links without advancing further,
	// since doing so would desynchronize the chain from the sender's.
	for offset := 1; offset <= historyWindow; offset++ {
		idx := chain.CurrentKeyIndex - offset
		if idx < 0 {
			break
		}
		fields, plain, err := p.tryDecryptAt(offset, wrapped, env.Timestamp, senderHash)
		if err == nil {
			ack := p.buildAckAtOffset(plain, env.Timestamp, offset-1)
			return Decrypted{Fields: fields, GapOffset: offset, Ack: ack, NetworkID: NetworkID(plain)}, nil
		}
	}

	expected := genesisAnchor(p.FriendshipID)
	if p.haveRecvAny {
		expected = p.lastRecvMsgHP
	}
	if prevMsgHP != expected {
		return Decrypted{}, ErrGapDetected
	}
	return Decrypted{}, ErrHistoryExhausted
}

// historicalPrevPlaintext returns the prevPlaintext value the message
// sitting offset advances back in the chain's history was originally
// salted with, derived from the local record of already-processed
// plaintexts. offset 0 names a message not yet in recvHistory (the
// next one to process, salted against the most recently processed
// plaintext); offset>0 names a message already recorded at
// recvHistory[s-offset], which was itself salted against the entry
// one slot before it. Either way the answer is recvHistory[s-offset-1].
func (p *Pipeline) historicalPrevPlaintext(offset int) []byte {
	s := len(p.recvHistory)
	idx := s - offset - 1
	if idx < 0 || idx >= s {
		return nil
	}
	return p.recvHistory[idx]
}

func (p *Pipeline) tryDecryptAt(offset int, wrapped []byte, ts envelope.NetTime, senderHash [32]byte) (PlaintextFields, []byte, error) {
	link := p.Chain.LinkAtOffset(offset)
	salt := p.Chain.SaltAtOffset(offset, p.historicalPrevPlaintext(offset))
	pad := p.Chain.ScratchPad(link, salt)
	unwrapped := xorWithPad(wrapped, pad)

	streamKey := shake256(append(append([]byte{}, domainChaCha...), link[:]...), 32)
	nonce := deriveNonce(ts, senderHash)
	aead, err := chacha20poly1305.New(streamKey)
	if err != nil {
		return PlaintextFields{}, nil, err
	}
	plain, err := aead.Open(nil, nonce, unwrapped, nil)
	if err != nil {
		return PlaintextFields{}, nil, ErrDecryptionFailed
	}

	plainEnv, err := envelope.Unmarshal(plain)
	if err != nil {
		return PlaintextFields{}, nil, ErrDecryptionFailed
	}
	plainSec, ok := plainEnv.SectionByLabel("plaintext")
	if !ok {
		return PlaintextFields{}, nil, ErrDecryptionFailed
	}
	return unshuffleSection(plainSec), plain, nil
}

// buildAckAtOffset computes the ack proof against the link state
// offset advances back. Callers pass the offset of the state right
// after the message's own advance (0 for in-order delivery, one less
// than the history offset for a redelivery), so a retransmitted
// duplicate found via the history window re-emits the identical,
// deterministic ack it produced the first time.
func (p *Pipeline) buildAckAtOffset(plaintext []byte, ts envelope.NetTime, offset int) *envelope.Envelope {
	plaintextHash := shake256(plaintext, 32)
	var hashArr [32]byte
	copy(hashArr[:], plaintextHash)
	proof := p.Chain.AckProofAtOffset(offset, hashArr, int64(ts))

	ack := &envelope.Envelope{
		Version:           envelope.Version,
		BackcompatVersion: envelope.BackcompatVersion,
		Timestamp:         envelope.Now(),
		Sections: []envelope.Section{
			{
				Label: "routing",
				Fields: []envelope.Field{
					{Tag: tagRoutingSenderHash, Value: p.OwnHandleHash[:]},
					{Tag: tagRoutingFriendship, Value: p.FriendshipID[:]},
				},
			},
			{
				Label: "ack",
				Fields: []envelope.Field{
					{Tag: tagAckTimestamp, Value: encodeTimestamp(ts)},
					{Tag: tagAckProof, Value: proof[:]},
				},
			},
		},
	}
	var provenance [32]byte
	copy(provenance[:], shake256(concatSections(proof[:], ack.Sections[0]), 32))
	ack.ProvenanceHash = provenance
	ack.Sign(p.SigningPriv)
	return ack
}

// ProcessAck verifies a received ack envelope against this pipeline's
// pending queue. On success every pending message with a timestamp at
// or before the acknowledged one is removed from the queue: an ack for
// message T implicitly covers everything earlier, since those messages
// were necessary to derive T's salt. On failure the acknowledged
// message (and everything after it) stays pending for retry, and
// ErrChainAdvanceRefused is returned.
func (p *Pipeline) ProcessAck(env *envelope.Envelope) error {
	if err := env.VerifySignature(); err != nil {
		return err
	}
	sec, ok := env.SectionByLabel("ack")
	if !ok {
		return ErrDecryptionFailed
	}
	tsBytes, ok := sec.Get(tagAckTimestamp)
	if !ok || len(tsBytes) != 8 {
		return ErrDecryptionFailed
	}
	proofBytes, ok := sec.Get(tagAckProof)
	if !ok || len(proofBytes) != 32 {
		return ErrDecryptionFailed
	}
	ackTS := decodeTimestamp(tsBytes)
	var proof [32]byte
	copy(proof[:], proofBytes)

	idx := -1
	for i, pm := range p.pending {
		if pm.Timestamp == ackTS {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownAck
	}

	target := p.pending[idx]
	offset := p.sendStep - target.stepAtSend
	expected := p.Chain.AckProofAtOffset(offset, target.PlaintextHash, int64(ackTS))
	if expected != proof {
		return ErrChainAdvanceRefused
	}

	kept := p.pending[:0:0]
	for _, pm := range p.pending {
		if pm.Timestamp > ackTS {
			kept = append(kept, pm)
		}
	}
	p.pending = kept
	return nil
}

// Pending returns the messages still awaiting acknowledgement, in the
// order they were sent, so a caller can retransmit their retained wire
// bytes.
func (p *Pipeline) Pending() []pendingMessage {
	return p.pending
}

// shuffledSection lays out PlaintextFields as a "plaintext" section
// with a randomized field order, matching CHAIN's field-order shuffle
// so that fixed byte offsets never reveal which field is which.
func shuffledSection(fields PlaintextFields) envelope.Section {
	all := []envelope.Field{
		{Tag: TagText, Value: fields.Text},
		{Tag: TagHashPointer, Value: fields.IncorporatedHashPointer[:]},
		{Tag: TagPadding, Value: fields.Padding},
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return envelope.Section{Label: "plaintext", Fields: all}
}

func unshuffleSection(sec envelope.Section) PlaintextFields {
	var out PlaintextFields
	if v, ok := sec.Get(TagText); ok {
		out.Text = v
	}
	if v, ok := sec.Get(TagHashPointer); ok {
		copy(out.IncorporatedHashPointer[:], v)
	}
	if v, ok := sec.Get(TagPadding); ok {
		out.Padding = v
	}
	return out
}

// deriveNonce computes the stream cipher nonce from the message
// timestamp and the sending party's handle hash rather than link
// material, so it stays monotone in timestamp across retransmissions
// of otherwise-identical content instead of depending on chain state
// that a retransmit might reuse.
func deriveNonce(ts envelope.NetTime, handleHash [32]byte) []byte {
	buf := append(append([]byte{}, domainNonce...), encodeTimestamp(ts)...)
	buf = append(buf, handleHash[:]...)
	return shake256(buf, chacha20poly1305.NonceSize)
}

// randomPadding draws the CHAIN plaintext's length-obscuring padding
// blob: its length is the minimum of three independent uniform byte
// samples, biasing it toward short so most messages pay little
// overhead while occasionally carrying a much longer one.
func randomPadding() ([]byte, error) {
	var samples [3]byte
	if _, err := cryptorand.Read(samples[:]); err != nil {
		return nil, err
	}
	n := samples[0]
	if samples[1] < n {
		n = samples[1]
	}
	if samples[2] < n {
		n = samples[2]
	}
	pad := make([]byte, n)
	if _, err := cryptorand.Read(pad); err != nil {
		return nil, err
	}
	return pad, nil
}

func genesisAnchor(friendshipID [32]byte) [32]byte {
	return spaghetti.SmearHashConcat(domainGenesis, friendshipID[:])
}

// NetworkID computes the dedup identifier for a decrypted plaintext:
// SPAGHETTIFY(domain_network_id || hash(plaintext)). Callers use it as
// a relay-level or queue-level "already processed" key instead of
// hashing the raw envelope bytes, since a retransmitted envelope can
// differ byte-for-byte from the original (different nonce, signature,
// timestamp) while still carrying the same plaintext.
func NetworkID(plaintext []byte) [32]byte {
	inner := spaghetti.SmearHash(plaintext)
	return spaghetti.Spaghettify(append(append([]byte{}, domainNetworkID...), inner[:]...))
}

func concatSections(payload []byte, sec envelope.Section) []byte {
	buf := append([]byte{}, payload...)
	buf = append(buf, []byte(sec.Label)...)
	for _, f := range sec.Fields {
		buf = append(buf, byte(f.Tag))
		buf = append(buf, f.Value...)
	}
	return buf
}

func encodeTimestamp(ts envelope.NetTime) []byte {
	b := make([]byte, 8)
	v := uint64(ts)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeTimestamp(b []byte) envelope.NetTime {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return envelope.NetTime(v)
}

func xorWithPad(data, pad []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ pad[i%len(pad)]
	}
	return out
}

func shake256(data []byte, outLen int) []byte {
	h := sha3.NewShake256()
	h.Write(data)
	out := make([]byte, outLen)
	_, _ = h.Read(out)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
