package spaghetti

import (
	"bytes"
	"testing"
)

func TestSpaghettifyDeterministic(t *testing.T) {
	input := []byte("the quick brown fox")
	a := Spaghettify(input)
	b := Spaghettify(input)
	if a != b {
		t.Fatalf("Spaghettify is not deterministic: %x != %x", a, b)
	}
}

func TestSpaghettifyAvalanche(t *testing.T) {
	a := Spaghettify([]byte("meshveil-test-input-0"))
	b := Spaghettify([]byte("meshveil-test-input-1"))
	if a == b {
		t.Fatalf("single-byte input change produced identical output")
	}
	diff := 0
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	if diff < HashSize/4 {
		t.Fatalf("avalanche too weak: only %d/%d bytes differ", diff, HashSize)
	}
}

func TestSmearHashDeterministic(t *testing.T) {
	input := []byte("smear hash input")
	a := SmearHash(input)
	b := SmearHash(input)
	if a != b {
		t.Fatalf("SmearHash is not deterministic")
	}
}

func TestSmearHashDiffersPerInput(t *testing.T) {
	a := SmearHash([]byte("x"))
	b := SmearHash([]byte("y"))
	if bytes.Equal(a[:], b[:]) {
		t.Fatalf("SmearHash collided on trivially different inputs")
	}
}

func TestHandleProofDeterministic(t *testing.T) {
	hh := Spaghettify([]byte("handle:alice"))
	a := HandleProof(hh)
	b := HandleProof(hh)
	if a != b {
		t.Fatalf("HandleProof is not deterministic")
	}
}

func TestHandleProofDiffersPerHandle(t *testing.T) {
	a := HandleProof(Spaghettify([]byte("handle:alice")))
	b := HandleProof(Spaghettify([]byte("handle:bob")))
	if a == b {
		t.Fatalf("HandleProof collided across different handles")
	}
}
