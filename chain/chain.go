// Package chain implements the ParticipantChain: a rolling 512-link,
// 16KB per-participant secret used by the messaging layer to derive
// per-message salts, encryption keys and acknowledgement proofs
// without ever reusing the same link material for two purposes.
package chain

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sort"

	"meshveil/spaghetti"
)

const (
	// LinkCount is the total number of 32-byte links in a chain.
	LinkCount = 512
	// HistoryLinks is the number of links reserved for already-used
	// history, kept zeroed until Advance rotates real material into
	// them.
	HistoryLinks = 256
	// ActiveLinks is the number of links seeded with real key material
	// on Init.
	ActiveLinks = 256
	// LinkSize is the byte size of a single link.
	LinkSize = 32
	// ChainSize is the total serialized size of a ParticipantChain.
	ChainSize = LinkCount * LinkSize
	// CurrentKeyIndex is the index of the link holding the freshest
	// key material, always the last link.
	CurrentKeyIndex = LinkCount - 1

	// initAvalancheSize is the scratch buffer size used to expand a
	// 256-byte CLUTCH seed into ActiveLinks worth of key material
	// through a memory-hard avalanche pass.
	initAvalancheSize = 2 * 1024 * 1024

	// scratchPadSize is the size of the per-message scratch pad
	// (30 KiB, matching the reference chain's L1 buffer) generated
	// from the current link and mixed into every outgoing message.
	scratchPadSize = 30 * 1024
	// scratchPadRounds is the number of data-dependent mixing rounds
	// applied when filling the scratch pad.
	scratchPadRounds = 3
)

// ErrShortSeed is returned when Init is given fewer than 256 bytes of
// seed material.
var ErrShortSeed = errors.New("chain: seed must be at least 256 bytes")

// domain separators, each unique to its derivation so that a value
// computed for one purpose can never be replayed as another.
var (
	domainAdvance = []byte("meshveil-chain-advance-v1")
	domainAck     = []byte("meshveil-chain-ack-v1")
	domainConfirm = []byte("meshveil-chain-confirm-v1")
	domainSalt    = []byte("meshveil-chain-salt-v1")
	domainInit    = []byte("meshveil-chain-init-v1")
	domainScratch = []byte("meshveil-chain-scratch-v1")

	// domainFriendship separates friendship_id from every other
	// SmearHash use across the module.
	domainFriendship = []byte("meshveil-chain-friendship-v1")
)

// FriendshipID computes the on-disk directory name a completed
// ceremony's chains are stored under: the SmearHash of the sorted
// participant handle hashes under a dedicated domain separator, so
// every participant derives the identical value without needing to
// agree on an order up front.
func FriendshipID(handleHashes ...[32]byte) [32]byte {
	sorted := append([][32]byte(nil), handleHashes...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	parts := make([][]byte, 0, len(sorted)+1)
	parts = append(parts, domainFriendship)
	for _, h := range sorted {
		parts = append(parts, h[:])
	}
	return spaghetti.SmearHashConcat(parts...)
}

// ParticipantChain holds one side's rolling secret state.
type ParticipantChain struct {
	Links [LinkCount][LinkSize]byte
	// LastAckTime is the timestamp, in seconds since the Unix epoch,
	// that Advance last rolled the chain forward under. It tracks when
	// this side last had a message or an acknowledgement it trusted
	// enough to advance on, independent of the link material itself.
	LastAckTime int64
}

// Init derives a fresh ParticipantChain from a 256-byte CLUTCH seed.
// The seed is expanded through a memory-hard avalanche pass and then
// truncated-and-appended via SmearHash to fill the active window;
// the history window starts zeroed since no messages have been
// exchanged yet.
func Init(seed []byte) (*ParticipantChain, error) {
	if len(seed) < 256 {
		return nil, ErrShortSeed
	}

	buf := make([]byte, initAvalancheSize)
	seedDigest := spaghetti.SmearHashConcat(domainInit, seed)
	prev := seedDigest[:]
	for off := 0; off < len(buf); off += spaghetti.HashSize {
		digest := spaghetti.SmearHashConcat(domainInit, prev, encodeUint64(uint64(off)))
		end := off + spaghetti.HashSize
		if end > len(buf) {
			end = len(buf)
		}
		copy(buf[off:end], digest[:end-off])
		prev = digest[:]
	}
	// One data-dependent avalanche pass so a change anywhere in seed
	// propagates across the whole 2MiB buffer.
	for i := 0; i < len(buf); i += spaghetti.HashSize {
		idx := binary.BigEndian.Uint64(buf[i:i+8]) % uint64(len(buf)/spaghetti.HashSize)
		src := buf[idx*spaghetti.HashSize : idx*spaghetti.HashSize+spaghetti.HashSize]
		digest := spaghetti.SmearHashConcat(buf[i:i+spaghetti.HashSize], src)
		copy(buf[i:i+spaghetti.HashSize], digest[:])
	}

	var chain ParticipantChain
	// History stays zero. Active window fills links[256:512] by
	// truncating and appending via SmearHash over the avalanched
	// buffer until 8KB (ActiveLinks*LinkSize) worth of key material
	// is produced.
	cursor := 0
	for i := HistoryLinks; i < LinkCount; i++ {
		digest := spaghetti.SmearHashConcat(buf[cursor%len(buf):], encodeUint64(uint64(i)))
		copy(chain.Links[i][:], digest[:])
		cursor += spaghetti.HashSize
	}
	return &chain, nil
}

// CurrentLink returns the freshest key material.
func (c *ParticipantChain) CurrentLink() [LinkSize]byte {
	return c.LinkAtOffset(0)
}

// LinkAtOffset returns the link that held CurrentKeyIndex offset
// Advance calls ago. offset 0 is CurrentLink; offset up to HistoryLinks
// recovers links that have since rolled out of the active window but
// are still resident in the shifted array.
func (c *ParticipantChain) LinkAtOffset(offset int) [LinkSize]byte {
	return c.Links[CurrentKeyIndex-offset]
}

// Advance rolls the chain forward by one message: the whole link
// array shifts left by one, the oldest link falls off, and a fresh
// link derived from the domain separator, the caller-supplied
// transcript T and the current active window is placed at the end.
// ackTime is recorded as LastAckTime, the seconds-since-epoch
// timestamp of whatever acknowledged event triggered this advance.
func (c *ParticipantChain) Advance(transcript []byte, ackTime int64) [LinkSize]byte {
	var flat [ActiveLinks * LinkSize]byte
	for i := 0; i < ActiveLinks; i++ {
		copy(flat[i*LinkSize:(i+1)*LinkSize], c.Links[HistoryLinks+i][:])
	}
	freshDigest := spaghetti.Spaghettify(concatAll(domainAdvance, transcript, flat[:]))

	for i := 0; i < LinkCount-1; i++ {
		c.Links[i] = c.Links[i+1]
	}
	c.Links[CurrentKeyIndex] = freshDigest
	c.LastAckTime = ackTime
	return freshDigest
}

// AckLinkRange returns the five links [507:512) used to derive
// acknowledgement proofs, deliberately overlapping but distinctly
// ordered from SaltLinkRange and CurrentLink so ack values are never
// interchangeable with advance or salt values.
func (c *ParticipantChain) AckLinkRange() [][LinkSize]byte {
	return c.AckLinkRangeAtOffset(0)
}

// AckLinkRangeAtOffset is AckLinkRange as it stood offset Advance
// calls ago, letting a receiver reproduce the ack proof a sender
// computed under an earlier, since-rotated link state.
func (c *ParticipantChain) AckLinkRangeAtOffset(offset int) [][LinkSize]byte {
	return c.linkRangeAtOffset(offset, 507, 512)
}

// ConfirmLinkRange returns the three links [509:512) used when
// confirming a ceremony has completed on both ends.
func (c *ParticipantChain) ConfirmLinkRange() [][LinkSize]byte {
	return c.linkRange(509, 512)
}

// SaltLinkRange returns the twelve links [500:512) folded into
// per-message salt derivation.
func (c *ParticipantChain) SaltLinkRange() [][LinkSize]byte {
	return c.SaltLinkRangeAtOffset(0)
}

// SaltLinkRangeAtOffset is SaltLinkRange as it stood offset Advance
// calls ago.
func (c *ParticipantChain) SaltLinkRangeAtOffset(offset int) [][LinkSize]byte {
	return c.linkRangeAtOffset(offset, 500, 512)
}

func (c *ParticipantChain) linkRange(start, end int) [][LinkSize]byte {
	return c.linkRangeAtOffset(0, start, end)
}

// linkRangeAtOffset returns links [start:end) as they stood offset
// Advance calls ago. Because Advance shifts the whole array left by
// one and appends fresh material at CurrentKeyIndex, a link that held
// global position p offset advances ago is sitting at p-offset in the
// current array.
func (c *ParticipantChain) linkRangeAtOffset(offset, start, end int) [][LinkSize]byte {
	out := make([][LinkSize]byte, 0, end-start)
	for i := start - offset; i < end-offset; i++ {
		out = append(out, c.Links[i])
	}
	return out
}

// AckProof computes the acknowledgement value for a received
// plaintext, binding the plaintext hash, timestamp and the ack link
// range under a domain separator distinct from Advance's.
func (c *ParticipantChain) AckProof(plaintextHash [32]byte, timestampMillis int64) [32]byte {
	return c.AckProofAtOffset(0, plaintextHash, timestampMillis)
}

// AckProofAtOffset is AckProof computed against the link state offset
// Advance calls ago, letting a receiver that has since advanced past a
// message's original position still reproduce the same proof.
func (c *ParticipantChain) AckProofAtOffset(offset int, plaintextHash [32]byte, timestampMillis int64) [32]byte {
	links := c.AckLinkRangeAtOffset(offset)
	buf := make([]byte, 0, len(domainAck)+32+8+len(links)*LinkSize)
	buf = append(buf, domainAck...)
	buf = append(buf, plaintextHash[:]...)
	buf = append(buf, encodeUint64(uint64(timestampMillis))...)
	for _, l := range links {
		buf = append(buf, l[:]...)
	}
	return spaghetti.SmearHash(buf)
}

// ConfirmProof computes the ceremony-completion confirmation value:
// both sides of a freshly established chain compute and exchange this
// over the relay before either one persists the chain, catching a
// divergence between what they each derived from the CLUTCH seed.
func (c *ParticipantChain) ConfirmProof(ceremonyID [32]byte) [32]byte {
	links := c.ConfirmLinkRange()
	buf := make([]byte, 0, len(domainConfirm)+32+len(links)*LinkSize)
	buf = append(buf, domainConfirm...)
	buf = append(buf, ceremonyID[:]...)
	for _, l := range links {
		buf = append(buf, l[:]...)
	}
	return spaghetti.SmearHash(buf)
}

// Salt derives the per-message salt fed into message encryption,
// binding the previous plaintext and the salt link range. Salt is
// never carried on the wire: both ends recompute it locally from their
// own copy of prevPlaintext.
func (c *ParticipantChain) Salt(prevPlaintext []byte) [32]byte {
	return c.SaltAtOffset(0, prevPlaintext)
}

// SaltAtOffset is Salt computed against the link state offset Advance
// calls ago, used by the history-window fallback to recompute the
// salt a sender used before the receiver's own chain rotated past it.
func (c *ParticipantChain) SaltAtOffset(offset int, prevPlaintext []byte) [32]byte {
	links := c.SaltLinkRangeAtOffset(offset)
	buf := make([]byte, 0, len(domainSalt)+len(prevPlaintext)+len(links)*LinkSize)
	buf = append(buf, domainSalt...)
	buf = append(buf, prevPlaintext...)
	for _, l := range links {
		buf = append(buf, l[:]...)
	}
	return spaghetti.Spaghettify(buf)
}

// ScratchPad deterministically generates a 30KB one-time pad seeded
// from the supplied link XOR'd with a message salt, chained through
// SmearHash and then run through several data-dependent mixing
// rounds to make it cache-hostile to precompute in bulk. The caller
// picks which link to seed from: CurrentLink for a fresh message, or
// LinkAtOffset(k) to reproduce the pad an older message was wrapped
// under.
func (c *ParticipantChain) ScratchPad(link [LinkSize]byte, messageSalt [32]byte) []byte {
	pad := make([]byte, scratchPadSize)
	var seed [32]byte
	for i := range seed {
		seed[i] = link[i] ^ messageSalt[i]
	}

	prev := seed[:]
	for off := 0; off < len(pad); off += spaghetti.HashSize {
		digest := spaghetti.SmearHashConcat(domainScratch, prev)
		end := off + spaghetti.HashSize
		if end > len(pad) {
			end = len(pad)
		}
		copy(pad[off:end], digest[:end-off])
		prev = digest[:]
	}

	for round := 0; round < scratchPadRounds; round++ {
		for i := 0; i < len(pad); i += spaghetti.HashSize {
			idx := binary.BigEndian.Uint64(pad[i:i+8]) % uint64(len(pad)/spaghetti.HashSize)
			src := pad[idx*spaghetti.HashSize : idx*spaghetti.HashSize+spaghetti.HashSize]
			digest := spaghetti.SmearHashConcat(pad[i:i+spaghetti.HashSize], src, encodeUint64(uint64(round)))
			copy(pad[i:i+spaghetti.HashSize], digest[:])
		}
	}
	return pad
}

// RandomTranscript returns fresh random bytes suitable as an Advance
// transcript when no application-level transcript is available.
func RandomTranscript() ([]byte, error) {
	t := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, t); err != nil {
		return nil, err
	}
	return t, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func concatAll(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
