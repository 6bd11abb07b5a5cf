package primitives

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestX25519Agreement(t *testing.T) {
	x := NewX25519()
	aPub, aPriv, err := x.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	bPub, bPriv, err := x.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	s1, err := x.DeriveShared(bPub, aPriv)
	if err != nil {
		t.Fatalf("DeriveShared failed: %v", err)
	}
	s2, err := x.DeriveShared(aPub, bPriv)
	if err != nil {
		t.Fatalf("DeriveShared failed: %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Fatalf("X25519 shared secrets disagree")
	}
}

func TestHardProblemKEMRoundTrip(t *testing.T) {
	k := newHardProblemKEM("test-kem", 128, 32)
	pub, priv, err := k.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	ct, shared1, err := k.Encapsulate(rand.Reader, pub)
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}
	shared2, err := k.Decapsulate(priv, ct)
	if err != nil {
		t.Fatalf("Decapsulate failed: %v", err)
	}
	if !bytes.Equal(shared1, shared2) {
		t.Fatalf("hard-problem KEM shared secrets disagree")
	}
}

func TestBundleOfferAndCombine(t *testing.T) {
	alice := NewBundle()
	bob := NewBundle()

	alicePubs, alicePrivs, err := alice.Offer(rand.Reader)
	if err != nil {
		t.Fatalf("Offer failed: %v", err)
	}
	ct, bobPubs, bobSecrets, err := bob.RespondTo(rand.Reader, alicePubs)
	if err != nil {
		t.Fatalf("RespondTo failed: %v", err)
	}
	aliceSecrets, err := alice.Combine(alicePrivs, bobPubs, ct)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if len(aliceSecrets) != 8 || len(bobSecrets) != 8 {
		t.Fatalf("expected 8 pairwise secrets, got %d and %d", len(aliceSecrets), len(bobSecrets))
	}
	for i := range aliceSecrets {
		if !bytes.Equal(aliceSecrets[i], bobSecrets[i]) {
			t.Fatalf("secret %d disagrees between alice and bob", i)
		}
	}
}
