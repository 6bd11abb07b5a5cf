package primitives

import (
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

// secp256k1ECDH implements ECDH over secp256k1 using btcec, the same
// package used for secp256k1 scalar and point arithmetic in the
// multiparty-computation corpus this module draws its curve wrapper
// idiom from.
type secp256k1ECDH struct{}

// NewSecp256k1 returns the secp256k1 ECDH primitive.
func NewSecp256k1() ECDH { return secp256k1ECDH{} }

func (secp256k1ECDH) Name() string { return "secp256k1" }

func (secp256k1ECDH) GenerateKeypair(rand io.Reader) (pub, priv []byte, err error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return sk.PubKey().SerializeCompressed(), sk.Serialize(), nil
}

func (secp256k1ECDH) DeriveShared(peerPub, ownPriv []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(peerPub)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(ownPriv)
	if priv == nil {
		return nil, errors.New("secp256k1: invalid private key bytes")
	}

	var shared btcec.JacobianPoint
	pubJ := &btcec.JacobianPoint{}
	pub.AsJacobian(pubJ)
	btcec.ScalarMultNonConst(&priv.Key, pubJ, &shared)
	shared.ToAffine()

	out := make([]byte, 32)
	xBytes := shared.X.Bytes()
	copy(out[32-len(xBytes):], xBytes[:])
	return out, nil
}
