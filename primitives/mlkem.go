package primitives

import (
	"crypto/mlkem"
	"io"
)

// mlkem1024 implements the ML-KEM-1024 structured-lattice KEM using
// the standard library's native implementation, following the same
// generated-API shape shown a parameter set down in the reference
// corpus.
type mlkem1024 struct{}

// NewMLKEM1024 returns the ML-KEM-1024 primitive.
func NewMLKEM1024() KEM { return mlkem1024{} }

func (mlkem1024) Name() string { return "ML-KEM-1024" }

func (mlkem1024) GenerateKeypair(rand io.Reader) (pub, priv []byte, err error) {
	dk, err := mlkem.GenerateKey1024()
	if err != nil {
		return nil, nil, err
	}
	return dk.EncapsulationKey().Bytes(), dk.Bytes(), nil
}

func (mlkem1024) Encapsulate(rand io.Reader, peerPub []byte) (ciphertext, shared []byte, err error) {
	ek, err := mlkem.NewEncapsulationKey1024(peerPub)
	if err != nil {
		return nil, nil, err
	}
	shared, ciphertext = ek.Encapsulate()
	return ciphertext, shared, nil
}

func (mlkem1024) Decapsulate(ownPriv, ciphertext []byte) (shared []byte, err error) {
	dk, err := mlkem.NewDecapsulationKey1024(ownPriv)
	if err != nil {
		return nil, err
	}
	return dk.Decapsulate(ciphertext)
}
