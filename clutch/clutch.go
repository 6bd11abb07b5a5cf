// Package clutch implements the CLUTCH ceremony: an N-party handshake
// that combines eight heterogeneous KEM/ECDH primitives into a single
// 256-byte shared seed, generalizing the two-party X3DH handshake to
// an arbitrary number of participants and a much wider primitive set.
//
// There is no initiator/responder distinction at the protocol level.
// Every participant broadcasts one Offer to the whole ceremony; for
// every pair of participants, whichever handle hash sorts later
// encapsulates against the earlier party's offer (exactly the
// asymmetric roles RespondTo/Combine already impose on a single
// pair), so an N-party ceremony is just every pair of the mesh running
// that exchange once. Each pair then publishes a one-way digest of
// its eight shared secrets, which every other participant folds into
// the ceremony-wide seed without ever learning the secrets themselves.
package clutch

import (
	"crypto/rand"
	"errors"
	"sort"

	"golang.org/x/crypto/sha3"

	"meshveil/internal/memzero"
	"meshveil/primitives"
	"meshveil/spaghetti"
)

// State enumerates the ceremony's lifecycle.
type State int

const (
	Idle State = iota
	Collecting
	Deriving
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Deriving:
		return "deriving"
	case Established:
		return "established"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownHandle is returned when a participant not part of the
	// ceremony's handle set sends an offer, response or digest.
	ErrUnknownHandle = errors.New("clutch: handle not part of this ceremony")
	// ErrCeremonyMismatch is returned when a message references a
	// ceremony instance different from the one being run.
	ErrCeremonyMismatch = errors.New("clutch: ceremony instance mismatch")
	// ErrIncompleteCeremony is returned when seed derivation, or own
	// pair digest computation, is attempted before the prerequisite
	// exchanges have completed.
	ErrIncompleteCeremony = errors.New("clutch: not all participants have responded")
	// ErrWrongState is returned when an operation is attempted from a
	// state that does not permit it.
	ErrWrongState = errors.New("clutch: operation not valid in current state")
	// ErrMisaddressed is returned when a Response is not addressed to
	// this participant.
	ErrMisaddressed = errors.New("clutch: response addressed to a different participant")
	// ErrDigestMismatch is returned when two conflicting digests are
	// ever presented for the same pair, which can only happen if a
	// relay or a participant is lying about what it computed.
	ErrDigestMismatch = errors.New("clutch: conflicting pair digest for the same pair")
	// ErrTooFewParticipants is returned when a ceremony is started
	// with fewer than two participants.
	ErrTooFewParticipants = errors.New("clutch: ceremony needs at least two participants")
)

const seedSize = 256

// domainClutchInstance separates ceremony_id's memory-hard input from
// handle_proof's, even though both ultimately run through the same
// MemoryHardDigest construction.
var domainClutchInstance = []byte("meshveil-clutch-instance-v1")

// domainPairDigest separates a pair's broadcastable secret commitment
// from every other hash family in this module.
var domainPairDigest = []byte("meshveil-clutch-pairdigest-v1")

// domainSeed separates the final ceremony seed's XOF input from any
// other SHAKE256 use in this package.
var domainSeed = []byte("meshveil-clutch-seed-v1")

// Offer is broadcast by every participant at the start of a ceremony:
// the full sorted participant set (identical across every offer) and
// the sender's own eight ephemeral public keys.
type Offer struct {
	CeremonyID   [32]byte
	HandleHashes [][32]byte
	From         [32]byte
	Publics      primitives.EphemeralPublics
}

// Response flows between exactly one ordered pair of participants:
// whichever handle hash sorts later encapsulates against the earlier
// party's offer and sends back the resulting ciphertexts.
type Response struct {
	CeremonyID  [32]byte
	From        [32]byte
	To          [32]byte
	Ciphertexts primitives.Ciphertexts
}

// PairDigest is the one-way commitment a pair of participants
// publishes once their mutual exchange completes: a SmearHash over
// their eight shared secrets. It is safe to broadcast to participants
// outside the pair because it cannot be inverted back to the secrets,
// letting every other participant fold this pair's contribution into
// the ceremony seed without ever learning what the pair agreed on.
type PairDigest struct {
	CeremonyID [32]byte
	A, B       [32]byte // sorted: A precedes B
	Digest     [32]byte
}

// pairKey canonically identifies an unordered pair of handle hashes.
type pairKey [64]byte

func makePairKey(a, b [32]byte) pairKey {
	if !lessHandle(a, b) {
		a, b = b, a
	}
	var k pairKey
	copy(k[:32], a[:])
	copy(k[32:], b[:])
	return k
}

// Ceremony drives one CLUTCH handshake instance from Idle through
// Established or Failed.
type Ceremony struct {
	state State

	bundle *primitives.Bundle

	ownHandleHash [32]byte
	ceremonyID    [32]byte
	allHandles    [][32]byte // sorted, includes self

	ownPrivates primitives.EphemeralPrivates
	ownPublics  primitives.EphemeralPublics

	offers map[[32]byte]primitives.EphemeralPublics // peer handle -> their offer publics, includes self
	secretsByPeer map[[32]byte][][]byte              // peer handle -> our 8 secrets with that peer
	pairDigests   map[pairKey][32]byte

	seed []byte
}

// CeremonyID computes the deterministic ceremony identifier for a set
// of participant handle hashes, independent of ordering. Any
// participant can compute it themselves as soon as they know who else
// is in the ceremony, without waiting to receive anyone's offer.
func CeremonyID(handleHashes [][32]byte) [32]byte {
	all := append([][32]byte(nil), handleHashes...)
	sortHandleHashes(all)
	return deriveCeremonyID(all)
}

// NewCeremony starts a ceremony among participants (which must
// include ownHandleHash, and must number at least two), generates a
// fresh ephemeral keypair across all eight primitives, and returns
// the Offer to broadcast to every other participant.
func NewCeremony(ownHandleHash [32]byte, participants [][32]byte) (*Ceremony, *Offer, error) {
	all := append([][32]byte(nil), participants...)
	self := false
	for _, h := range all {
		if h == ownHandleHash {
			self = true
			break
		}
	}
	if !self {
		all = append(all, ownHandleHash)
	}
	sortHandleHashes(all)
	if len(all) < 2 {
		return nil, nil, ErrTooFewParticipants
	}

	bundle := primitives.NewBundle()
	pubs, privs, err := bundle.Offer(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	ceremonyID := deriveCeremonyID(all)

	c := &Ceremony{
		state:         Collecting,
		bundle:        bundle,
		ownHandleHash: ownHandleHash,
		ceremonyID:    ceremonyID,
		allHandles:    all,
		ownPrivates:   privs,
		ownPublics:    pubs,
		offers:        map[[32]byte]primitives.EphemeralPublics{ownHandleHash: pubs},
		secretsByPeer: make(map[[32]byte][][]byte, len(all)-1),
		pairDigests:   make(map[pairKey][32]byte, len(all)*(len(all)-1)/2),
	}
	offer := &Offer{
		CeremonyID:   ceremonyID,
		HandleHashes: all,
		From:         ownHandleHash,
		Publics:      pubs,
	}
	return c, offer, nil
}

// AddOffer folds in another participant's broadcast Offer. If the
// sender's handle hash sorts before ours we immediately respond,
// returning the Response to send back (responding only needs the
// peer's offer, not a round trip); if it sorts after ours, AddOffer
// returns a nil Response and the caller must wait for that peer's
// Response to arrive instead.
func (c *Ceremony) AddOffer(offer *Offer) (*Response, error) {
	if c.state != Collecting {
		return nil, ErrWrongState
	}
	for _, h := range offer.HandleHashes {
		if !c.knowsHandle(h) {
			return nil, ErrUnknownHandle
		}
	}
	if offer.CeremonyID != c.ceremonyID {
		return nil, ErrCeremonyMismatch
	}
	if !c.knowsHandle(offer.From) {
		return nil, ErrUnknownHandle
	}
	if _, already := c.offers[offer.From]; already {
		return nil, nil
	}
	c.offers[offer.From] = offer.Publics

	if lessHandle(c.ownHandleHash, offer.From) {
		return nil, nil
	}
	ct, secrets, err := c.bundle.RespondUsing(rand.Reader, c.ownPrivates, offer.Publics)
	if err != nil {
		c.state = Failed
		return nil, err
	}
	c.secretsByPeer[offer.From] = secrets
	return &Response{
		CeremonyID:  c.ceremonyID,
		From:        c.ownHandleHash,
		To:          offer.From,
		Ciphertexts: ct,
	}, nil
}

// AddResponse folds in a Response addressed to us from a peer whose
// handle hash sorts after ours, decapsulating against the matching
// offer AddOffer already recorded.
func (c *Ceremony) AddResponse(resp *Response) error {
	if c.state != Collecting {
		return ErrWrongState
	}
	if resp.CeremonyID != c.ceremonyID {
		return ErrCeremonyMismatch
	}
	if resp.To != c.ownHandleHash {
		return ErrMisaddressed
	}
	peerPubs, ok := c.offers[resp.From]
	if !ok {
		return ErrUnknownHandle
	}
	if _, already := c.secretsByPeer[resp.From]; already {
		return nil
	}
	secrets, err := c.bundle.Combine(c.ownPrivates, peerPubs, resp.Ciphertexts)
	if err != nil {
		c.state = Failed
		return err
	}
	c.secretsByPeer[resp.From] = secrets
	return nil
}

// ReadyForDigests reports whether this participant has completed its
// pairwise exchange with every other participant and can compute its
// own PairDigests.
func (c *Ceremony) ReadyForDigests() bool {
	for _, h := range c.allHandles {
		if h == c.ownHandleHash {
			continue
		}
		if _, ok := c.secretsByPeer[h]; !ok {
			return false
		}
	}
	return true
}

// OwnPairDigests computes the PairDigest for every pair this
// participant is part of, folds them into the local ceremony state,
// and returns them so the caller can broadcast them to the rest of
// the ceremony. It zeroes the ephemeral private keys once every
// secret has been extracted from them. Calling it before
// ReadyForDigests returns true fails with ErrIncompleteCeremony.
func (c *Ceremony) OwnPairDigests() ([]PairDigest, error) {
	if c.state != Collecting {
		return nil, ErrWrongState
	}
	if !c.ReadyForDigests() {
		return nil, ErrIncompleteCeremony
	}
	c.state = Deriving
	zeroPrivates(&c.ownPrivates)

	peers := make([][32]byte, 0, len(c.secretsByPeer))
	for h := range c.secretsByPeer {
		peers = append(peers, h)
	}
	sortHandleHashes(peers)

	out := make([]PairDigest, 0, len(peers))
	for _, peer := range peers {
		a, b := c.ownHandleHash, peer
		digest := pairDigestBytes(a, b, c.secretsByPeer[peer])
		if !lessHandle(a, b) {
			a, b = b, a
		}
		pd := PairDigest{CeremonyID: c.ceremonyID, A: a, B: b, Digest: digest}
		if err := c.foldDigest(pd); err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, nil
}

// AddPairDigest folds in a PairDigest broadcast by (or computed for)
// any pair in the ceremony, including pairs this participant is not
// itself part of. Once every one of the ceremony's N(N-1)/2 pairs has
// a known digest, the ceremony moves to Established and Seed becomes
// available.
func (c *Ceremony) AddPairDigest(d PairDigest) error {
	if c.state == Failed || c.state == Established {
		return ErrWrongState
	}
	if d.CeremonyID != c.ceremonyID {
		return ErrCeremonyMismatch
	}
	if !c.knowsHandle(d.A) || !c.knowsHandle(d.B) {
		return ErrUnknownHandle
	}
	return c.foldDigest(d)
}

func (c *Ceremony) foldDigest(d PairDigest) error {
	key := makePairKey(d.A, d.B)
	if existing, ok := c.pairDigests[key]; ok {
		if existing != d.Digest {
			c.state = Failed
			return ErrDigestMismatch
		}
		return nil
	}
	c.pairDigests[key] = d.Digest
	if !c.allDigestsKnown() {
		return nil
	}
	seed, err := c.deriveSeed()
	if err != nil {
		c.state = Failed
		return err
	}
	c.seed = seed
	c.state = Established
	return nil
}

func (c *Ceremony) allDigestsKnown() bool {
	n := len(c.allHandles)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if _, ok := c.pairDigests[makePairKey(c.allHandles[i], c.allHandles[j])]; !ok {
				return false
			}
		}
	}
	return true
}

func (c *Ceremony) knowsHandle(h [32]byte) bool {
	for _, candidate := range c.allHandles {
		if candidate == h {
			return true
		}
	}
	return false
}

// zeroPrivates wipes every ephemeral private key field once the
// pairwise secrets derived from them have already been folded into a
// digest.
func zeroPrivates(p *primitives.EphemeralPrivates) {
	memzero.Zero(p.X25519)
	memzero.Zero(p.P384)
	memzero.Zero(p.Secp256k1)
	memzero.Zero(p.MLKEM1024)
	memzero.Zero(p.NTRUHPS4096821)
	memzero.Zero(p.FrodoKEM976)
	memzero.Zero(p.HQC256)
	memzero.Zero(p.McEliece460896)
}

// State returns the ceremony's current lifecycle state.
func (c *Ceremony) State() State { return c.state }

// Seed returns the 256-byte shared seed once the ceremony has reached
// Established; it returns ErrIncompleteCeremony otherwise.
func (c *Ceremony) Seed() ([]byte, error) {
	if c.state != Established {
		return nil, ErrIncompleteCeremony
	}
	return c.seed, nil
}

// deriveSeed combines the full ceremony transcript, once every pair's
// digest is known, into the 256-byte seed every participant derives
// identically: the sorted handle hash list, every participant's
// X25519 public key in that same order, and every pairwise digest in
// sorted-pair order.
func (c *Ceremony) deriveSeed() ([]byte, error) {
	xof := sha3.NewShake256()
	xof.Write(domainSeed)
	xof.Write(c.ceremonyID[:])
	for _, h := range c.allHandles {
		xof.Write(h[:])
	}
	for _, h := range c.allHandles {
		pubs, ok := c.offers[h]
		if !ok {
			return nil, ErrIncompleteCeremony
		}
		xof.Write(pubs.X25519)
	}
	n := len(c.allHandles)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			digest := c.pairDigests[makePairKey(c.allHandles[i], c.allHandles[j])]
			xof.Write(c.allHandles[i][:])
			xof.Write(c.allHandles[j][:])
			xof.Write(digest[:])
		}
	}
	out := make([]byte, seedSize)
	_, _ = xof.Read(out)
	return out, nil
}

// pairDigestBytes hashes one pair's eight shared secrets down to a
// single broadcastable commitment, canonicalizing the pair's handle
// order first so both sides of the pair compute the identical digest.
func pairDigestBytes(a, b [32]byte, secrets [][]byte) [32]byte {
	if !lessHandle(a, b) {
		a, b = b, a
	}
	buf := make([]byte, 0, len(domainPairDigest)+64)
	buf = append(buf, domainPairDigest...)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	for _, s := range secrets {
		buf = append(buf, s...)
	}
	return spaghetti.SmearHash(buf)
}

// deriveCeremonyID computes ceremony_id as the memory-hard output over
// the sorted handle hash list, domain-separated from handle_proof so
// that a proof computed for one purpose can never stand in for the
// other. The list is first folded down to 32 bytes with SmearHash
// since MemoryHardDigest's memory-hard pass seeds from a fixed-size
// value, matching how HandleProof seeds from a single handle hash.
func deriveCeremonyID(sortedHandleHashes [][32]byte) [32]byte {
	buf := make([]byte, 0, len(domainClutchInstance)+len(sortedHandleHashes)*32)
	buf = append(buf, domainClutchInstance...)
	for _, h := range sortedHandleHashes {
		buf = append(buf, h[:]...)
	}
	return spaghetti.MemoryHardDigest(spaghetti.SmearHash(buf))
}

func lessHandle(a, b [32]byte) bool {
	for k := 0; k < 32; k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}

func sortHandleHashes(hs [][32]byte) {
	sort.Slice(hs, func(i, j int) bool {
		return lessHandle(hs[i], hs[j])
	})
}
