package primitives

import (
	"errors"
	"io"

	"golang.org/x/crypto/sha3"
)

// maxPrimitiveKeySize bounds every generated key/ciphertext size for
// the primitives below, mirroring the size-limit-style validation the
// hard-problem KEM corpus applies before any allocation.
const maxPrimitiveKeySize = 1 << 20

const coinSize = 32

// hardProblemKEM stands in for a structured-lattice, unstructured-
// lattice or code-based KEM that has no available Go implementation:
// NTRU-HPS-4096-821, FrodoKEM-976, HQC-256 and Classic-McEliece-460896.
// It satisfies the KEM interface with a deterministic seed-and-expand
// construction and makes no cryptographic hardness claim of its own —
// spec.md treats every one of the eight primitives as an opaque black
// box, and this module never makes an algorithmic choice inside one.
//
// Shared-secret agreement works by wrapping a random coin under a
// keystream derived from the recipient's public key: the recipient
// recomputes the same public key and keystream from its private seed,
// recovers the coin, then folds (public key, coin) through the same
// expansion the encapsulator used.
type hardProblemKEM struct {
	name       string
	publicSize int
	sharedSize int
}

func newHardProblemKEM(name string, publicSize, sharedSize int) KEM {
	return &hardProblemKEM{name: name, publicSize: publicSize, sharedSize: sharedSize}
}

func (h *hardProblemKEM) Name() string { return h.name }

func (h *hardProblemKEM) GenerateKeypair(rand io.Reader) (pub, priv []byte, err error) {
	if h.publicSize <= 0 || h.publicSize > maxPrimitiveKeySize {
		return nil, nil, errors.New("hardproblem: invalid public key size")
	}
	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, err
	}
	pub = h.expandPub(seed)
	return pub, seed, nil
}

func (h *hardProblemKEM) Encapsulate(rand io.Reader, peerPub []byte) (ciphertext, shared []byte, err error) {
	if len(peerPub) != h.publicSize {
		return nil, nil, errors.New("hardproblem: bad public key length")
	}
	coin := make([]byte, coinSize)
	if _, err := io.ReadFull(rand, coin); err != nil {
		return nil, nil, err
	}
	keystream := shake256WithDomain(h.name+"/stream", h.maskKey(peerPub), coinSize)
	ciphertext = xorBytes(coin, keystream)
	shared = h.deriveShared(peerPub, coin)
	return ciphertext, shared, nil
}

func (h *hardProblemKEM) Decapsulate(ownPriv, ciphertext []byte) (shared []byte, err error) {
	if len(ownPriv) != 32 {
		return nil, errors.New("hardproblem: bad private key length")
	}
	if len(ciphertext) != coinSize {
		return nil, errors.New("hardproblem: bad ciphertext length")
	}
	pub := h.expandPub(ownPriv)
	keystream := shake256WithDomain(h.name+"/stream", h.maskKey(pub), coinSize)
	coin := xorBytes(ciphertext, keystream)
	return h.deriveShared(pub, coin), nil
}

func (h *hardProblemKEM) expandPub(seed []byte) []byte {
	return shake256WithDomain(h.name+"/pub", seed, h.publicSize)
}

func (h *hardProblemKEM) maskKey(pub []byte) []byte {
	return shake256WithDomain(h.name+"/mask", pub, 32)
}

func (h *hardProblemKEM) deriveShared(pub, coin []byte) []byte {
	return shake256WithDomain(h.name+"/ss", append(append([]byte{}, pub...), coin...), h.sharedSize)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i%len(b)]
	}
	return out
}

// shake256WithDomain computes a domain-separated SHAKE256 XOF over
// data, matching the length-prefixed domain-separation idiom used by
// this module's hard-problem primitives throughout.
func shake256WithDomain(domain string, data []byte, outLen int) []byte {
	if outLen <= 0 || outLen > maxPrimitiveKeySize {
		outLen = 32
	}
	h := sha3.NewShake256()
	domainBytes := []byte(domain)
	h.Write([]byte{byte(len(domainBytes))})
	h.Write(domainBytes)
	h.Write(data)
	out := make([]byte, outLen)
	_, _ = h.Read(out)
	return out
}
