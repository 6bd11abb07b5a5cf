package primitives

import (
	"crypto/ecdh"
	"io"
)

// p384ECDH implements ECDH over NIST P-384 using the standard
// library's curve interface, the ecosystem's standard way of wrapping
// a NIST curve behind a keygen/DH pair since no third-party P-384
// implementation appears anywhere in the reference corpus.
type p384ECDH struct{}

// NewP384 returns the P-384 ECDH primitive.
func NewP384() ECDH { return p384ECDH{} }

func (p384ECDH) Name() string { return "P-384" }

func (p384ECDH) GenerateKeypair(rand io.Reader) (pub, priv []byte, err error) {
	curve := ecdh.P384()
	key, err := curve.GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return key.PublicKey().Bytes(), key.Bytes(), nil
}

func (p384ECDH) DeriveShared(peerPub, ownPriv []byte) ([]byte, error) {
	curve := ecdh.P384()
	priv, err := curve.NewPrivateKey(ownPriv)
	if err != nil {
		return nil, err
	}
	pub, err := curve.NewPublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	return priv.ECDH(pub)
}
