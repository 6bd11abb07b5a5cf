package primitives

import (
	"io"

	"golang.org/x/crypto/curve25519"
)

// x25519ECDH implements ECDH over Curve25519, grounded on the same
// clamping and scalar-mult idiom used for long-term identity keys
// elsewhere in this module.
type x25519ECDH struct{}

// NewX25519 returns the X25519 ECDH primitive.
func NewX25519() ECDH { return x25519ECDH{} }

func (x25519ECDH) Name() string { return "X25519" }

func (x25519ECDH) GenerateKeypair(rand io.Reader) (pub, priv []byte, err error) {
	var sk [32]byte
	if _, err := io.ReadFull(rand, sk[:]); err != nil {
		return nil, nil, err
	}
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64

	pk, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return pk, sk[:], nil
}

func (x25519ECDH) DeriveShared(peerPub, ownPriv []byte) ([]byte, error) {
	return curve25519.X25519(ownPriv, peerPub)
}
