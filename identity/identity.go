// Package identity implements local participant identity: a
// human-chosen handle, its derived handle hash and memory-hard
// handle proof, and a long-term Ed25519 signing key used to
// authenticate CLUTCH offers and CHAIN envelopes.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"meshveil/internal/memzero"
	"meshveil/spaghetti"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize
)

var ErrInvalidSalt = errors.New("identity: invalid salt size")

// Identity is a participant's local long-term key material.
type Identity struct {
	Handle string

	SigningPriv ed25519.PrivateKey
	SigningPub  ed25519.PublicKey
}

// New generates a fresh identity for the given handle.
func New(handle string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{Handle: handle, SigningPriv: priv, SigningPub: pub}, nil
}

// HandleHash returns the SPAGHETTIFY digest of the handle, the value
// used everywhere a handle needs to be compared or transmitted
// without revealing it in the clear.
func HandleHash(handle string) [32]byte {
	return spaghetti.Spaghettify([]byte("meshveil-handle-v1:" + handle))
}

// HandleProof computes the memory-hard registration proof for a
// handle hash, expensive enough to make bulk handle squatting
// impractical while remaining fast for a single legitimate
// registration.
func HandleProof(handleHash [32]byte) [32]byte {
	return spaghetti.HandleProof(handleHash)
}

// Fingerprint returns a base58-encoded short display form of the
// signing public key, grounded on the same content-addressed-ID idiom
// used for peer identifiers elsewhere in the reference corpus.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := spaghetti.SmearHash(pub)
	return base58.Encode(sum[:16])
}

// DeriveKEK derives a key-encryption key from a passphrase and salt
// using Argon2id, the same parameters used for at-rest identity
// storage.
func DeriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1<<16, 8, 1, 32)
}

// Seal encrypts plaintext under a KEK derived from passphrase and
// salt.
func Seal(passphrase string, salt, plaintext []byte) (nonce, ciphertext []byte, err error) {
	if len(salt) != saltSize {
		return nil, nil, ErrInvalidSalt
	}
	kek := DeriveKEK(passphrase, salt)
	defer memzero.Zero(kek)
	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts a ciphertext previously produced by Seal.
func Open(passphrase string, salt, nonce, ciphertext []byte) ([]byte, error) {
	if len(salt) != saltSize {
		return nil, ErrInvalidSalt
	}
	kek := DeriveKEK(passphrase, salt)
	defer memzero.Zero(kek)
	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

// NewSalt generates a fresh random salt for Seal/Open.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
