package envelope

import (
	"crypto/ed25519"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	env := &Envelope{
		Version:           Version,
		BackcompatVersion: BackcompatVersion,
		Timestamp:         Now(),
		ProvenanceHash:    [32]byte{1, 2, 3},
		Sections: []Section{
			{
				Label: "message",
				Fields: []Field{
					{Tag: 'A', Value: []byte("hello")},
					{Tag: 'B', Value: []byte{1, 2, 3, 4}},
				},
			},
		},
	}
	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Timestamp != env.Timestamp {
		t.Fatalf("timestamp mismatch after round trip")
	}
	sec, ok := decoded.SectionByLabel("message")
	if !ok {
		t.Fatalf("missing message section after round trip")
	}
	v, ok := sec.Get('A')
	if !ok || string(v) != "hello" {
		t.Fatalf("field A mismatch after round trip: %v", v)
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	env := &Envelope{
		Version:           Version,
		BackcompatVersion: BackcompatVersion,
		ProvenanceHash:    [32]byte{9, 9, 9},
	}
	env.Sign(priv)
	if err := env.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature failed on freshly signed envelope: %v", err)
	}

	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := decoded.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature failed after round trip: %v", err)
	}
	if string(decoded.SignerPublic) != string(pub) {
		t.Fatalf("signer public key mismatch after round trip")
	}
}

func TestTamperedProvenanceFailsVerification(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	env := &Envelope{ProvenanceHash: [32]byte{1}}
	env.Sign(priv)
	env.ProvenanceHash[0] = 2
	if err := env.VerifySignature(); err == nil {
		t.Fatalf("expected signature verification to fail after tampering")
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	if _, err := Unmarshal([]byte{0, 0, 0, 0}); err != ErrFormatError {
		t.Fatalf("expected ErrFormatError, got %v", err)
	}
}
