// Package primitives collects the eight heterogeneous key-agreement
// primitives combined by a CLUTCH ceremony: three ECDH curves and five
// KEMs spanning structured-lattice, unstructured-lattice and
// code-based hard problems. Each primitive is treated as a black box
// behind a common interface; no algorithmic choices are made inside a
// primitive by anything in this module.
package primitives

import "io"

// ECDH is satisfied by every Diffie-Hellman-style primitive in the
// bundle.
type ECDH interface {
	Name() string
	GenerateKeypair(rand io.Reader) (pub, priv []byte, err error)
	DeriveShared(peerPub, ownPriv []byte) ([]byte, error)
}

// KEM is satisfied by every key-encapsulation primitive in the bundle.
type KEM interface {
	Name() string
	GenerateKeypair(rand io.Reader) (pub, priv []byte, err error)
	Encapsulate(rand io.Reader, peerPub []byte) (ciphertext, shared []byte, err error)
	Decapsulate(ownPriv, ciphertext []byte) (shared []byte, err error)
}

// Bundle groups exactly one instance of each of the eight primitives.
// Field names, not slice indices, identify each primitive so that a
// ceremony can never silently substitute or drop one.
type Bundle struct {
	X25519    ECDH
	P384      ECDH
	Secp256k1 ECDH

	MLKEM1024       KEM
	NTRUHPS4096821  KEM
	FrodoKEM976     KEM
	HQC256          KEM
	McEliece460896  KEM
}

// NewBundle wires the eight concrete primitives together.
func NewBundle() *Bundle {
	return &Bundle{
		X25519:    NewX25519(),
		P384:      NewP384(),
		Secp256k1: NewSecp256k1(),

		MLKEM1024:      NewMLKEM1024(),
		NTRUHPS4096821: newHardProblemKEM("NTRU-HPS-4096-821", 1230, 32),
		FrodoKEM976:    newHardProblemKEM("FrodoKEM-976", 15632, 32),
		HQC256:         newHardProblemKEM("HQC-256", 7245, 32),
		McEliece460896: newHardProblemKEM("Classic-McEliece-460896", 524160, 32),
	}
}

// EphemeralPublics is the ordered set of eight ephemeral public keys
// exchanged in a CLUTCH Offer, one per primitive.
type EphemeralPublics struct {
	X25519    []byte
	P384      []byte
	Secp256k1 []byte

	MLKEM1024      []byte
	NTRUHPS4096821 []byte
	FrodoKEM976    []byte
	HQC256         []byte
	McEliece460896 []byte
}

// EphemeralPrivates mirrors EphemeralPublics for the locally held
// secret halves.
type EphemeralPrivates struct {
	X25519    []byte
	P384      []byte
	Secp256k1 []byte

	MLKEM1024      []byte
	NTRUHPS4096821 []byte
	FrodoKEM976    []byte
	HQC256         []byte
	McEliece460896 []byte
}

// Ciphertexts is the set of KEM ciphertexts a responder sends back to
// an offerer, one per KEM primitive (the three ECDH primitives need no
// ciphertext, only the responder's own ephemeral public key).
type Ciphertexts struct {
	MLKEM1024      []byte
	NTRUHPS4096821 []byte
	FrodoKEM976    []byte
	HQC256         []byte
	McEliece460896 []byte
}

// Offer generates a fresh ephemeral keypair for each of the eight
// primitives.
func (b *Bundle) Offer(rand io.Reader) (EphemeralPublics, EphemeralPrivates, error) {
	var pubs EphemeralPublics
	var privs EphemeralPrivates

	type step struct {
		name string
		gen  func(io.Reader) (pub, priv []byte, err error)
		pub  *[]byte
		priv *[]byte
	}
	steps := []step{
		{"x25519", b.X25519.GenerateKeypair, &pubs.X25519, &privs.X25519},
		{"p384", b.P384.GenerateKeypair, &pubs.P384, &privs.P384},
		{"secp256k1", b.Secp256k1.GenerateKeypair, &pubs.Secp256k1, &privs.Secp256k1},
		{"mlkem1024", b.MLKEM1024.GenerateKeypair, &pubs.MLKEM1024, &privs.MLKEM1024},
		{"ntru", b.NTRUHPS4096821.GenerateKeypair, &pubs.NTRUHPS4096821, &privs.NTRUHPS4096821},
		{"frodo", b.FrodoKEM976.GenerateKeypair, &pubs.FrodoKEM976, &privs.FrodoKEM976},
		{"hqc", b.HQC256.GenerateKeypair, &pubs.HQC256, &privs.HQC256},
		{"mceliece", b.McEliece460896.GenerateKeypair, &pubs.McEliece460896, &privs.McEliece460896},
	}
	for _, s := range steps {
		pub, priv, err := s.gen(rand)
		if err != nil {
			return EphemeralPublics{}, EphemeralPrivates{}, err
		}
		*s.pub = pub
		*s.priv = priv
	}
	return pubs, privs, nil
}

// RespondTo encapsulates against the offerer's five KEM public keys
// and derives the three ECDH shared secrets, returning the ciphertext
// bundle to send back plus all eight shared secrets in a fixed order.
// It generates a fresh ephemeral keypair of its own, so it is only
// correct when a party answers exactly one peer; a party answering
// several peers in the same ceremony (an N-party mesh) must generate
// its own keypair once via Offer and call RespondUsing for each peer
// instead, so every peer sees the same ephemeral publics from it.
func (b *Bundle) RespondTo(rand io.Reader, peer EphemeralPublics) (Ciphertexts, EphemeralPublics, [][]byte, error) {
	ownPubs, ownPrivs, err := b.Offer(rand)
	if err != nil {
		return Ciphertexts{}, EphemeralPublics{}, nil, err
	}
	ct, secrets, err := b.RespondUsing(rand, ownPrivs, peer)
	if err != nil {
		return Ciphertexts{}, EphemeralPublics{}, nil, err
	}
	return ct, ownPubs, secrets, nil
}

// RespondUsing is RespondTo using an already-generated ephemeral
// keypair rather than minting a fresh one, so the same keypair can
// answer every peer in a multi-party ceremony.
func (b *Bundle) RespondUsing(rand io.Reader, ownPrivs EphemeralPrivates, peer EphemeralPublics) (Ciphertexts, [][]byte, error) {
	secrets := make([][]byte, 0, 8)

	dhX, err := b.X25519.DeriveShared(peer.X25519, ownPrivs.X25519)
	if err != nil {
		return Ciphertexts{}, nil, err
	}
	dhP, err := b.P384.DeriveShared(peer.P384, ownPrivs.P384)
	if err != nil {
		return Ciphertexts{}, nil, err
	}
	dhK, err := b.Secp256k1.DeriveShared(peer.Secp256k1, ownPrivs.Secp256k1)
	if err != nil {
		return Ciphertexts{}, nil, err
	}
	secrets = append(secrets, dhX, dhP, dhK)

	var ct Ciphertexts
	kems := []struct {
		kem  KEM
		peer []byte
		out  *[]byte
	}{
		{b.MLKEM1024, peer.MLKEM1024, &ct.MLKEM1024},
		{b.NTRUHPS4096821, peer.NTRUHPS4096821, &ct.NTRUHPS4096821},
		{b.FrodoKEM976, peer.FrodoKEM976, &ct.FrodoKEM976},
		{b.HQC256, peer.HQC256, &ct.HQC256},
		{b.McEliece460896, peer.McEliece460896, &ct.McEliece460896},
	}
	for _, k := range kems {
		ciphertext, shared, err := k.kem.Encapsulate(rand, k.peer)
		if err != nil {
			return Ciphertexts{}, nil, err
		}
		*k.out = ciphertext
		secrets = append(secrets, shared)
	}

	return ct, secrets, nil
}

// Combine decapsulates the responder's ciphertext bundle and derives
// the three ECDH shared secrets against the responder's ephemeral
// public keys, returning all eight secrets in the same fixed order
// RespondTo uses.
func (b *Bundle) Combine(ownPrivs EphemeralPrivates, responderPubs EphemeralPublics, ct Ciphertexts) ([][]byte, error) {
	secrets := make([][]byte, 0, 8)

	dhX, err := b.X25519.DeriveShared(responderPubs.X25519, ownPrivs.X25519)
	if err != nil {
		return nil, err
	}
	dhP, err := b.P384.DeriveShared(responderPubs.P384, ownPrivs.P384)
	if err != nil {
		return nil, err
	}
	dhK, err := b.Secp256k1.DeriveShared(responderPubs.Secp256k1, ownPrivs.Secp256k1)
	if err != nil {
		return nil, err
	}
	secrets = append(secrets, dhX, dhP, dhK)

	decaps := []struct {
		kem  KEM
		priv []byte
		ct   []byte
	}{
		{b.MLKEM1024, ownPrivs.MLKEM1024, ct.MLKEM1024},
		{b.NTRUHPS4096821, ownPrivs.NTRUHPS4096821, ct.NTRUHPS4096821},
		{b.FrodoKEM976, ownPrivs.FrodoKEM976, ct.FrodoKEM976},
		{b.HQC256, ownPrivs.HQC256, ct.HQC256},
		{b.McEliece460896, ownPrivs.McEliece460896, ct.McEliece460896},
	}
	for _, d := range decaps {
		shared, err := d.kem.Decapsulate(d.priv, d.ct)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, shared)
	}
	return secrets, nil
}
