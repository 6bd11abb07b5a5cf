package chain

import (
	"crypto/rand"
	"testing"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed := make([]byte, 256)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("failed to generate seed: %v", err)
	}
	return seed
}

func TestInitRejectsShortSeed(t *testing.T) {
	if _, err := Init(make([]byte, 10)); err != ErrShortSeed {
		t.Fatalf("expected ErrShortSeed, got %v", err)
	}
}

func TestInitDeterministic(t *testing.T) {
	seed := testSeed(t)
	a, err := Init(seed)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	b, err := Init(seed)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if a.Links != b.Links {
		t.Fatalf("Init is not deterministic for identical seeds")
	}
}

func TestHistoryStartsZero(t *testing.T) {
	seed := testSeed(t)
	c, err := Init(seed)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	var zero [LinkSize]byte
	for i := 0; i < HistoryLinks; i++ {
		if c.Links[i] != zero {
			t.Fatalf("history link %d is not zero on init", i)
		}
	}
}

func TestAdvanceShiftsAndRefreshes(t *testing.T) {
	c, err := Init(testSeed(t))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	before := c.Links[CurrentKeyIndex]
	second := c.Links[CurrentKeyIndex-1]

	fresh := c.Advance([]byte("transcript-1"), 1700000000)
	if fresh != c.Links[CurrentKeyIndex] {
		t.Fatalf("Advance did not place the fresh link at CurrentKeyIndex")
	}
	if c.Links[CurrentKeyIndex-1] != before {
		t.Fatalf("Advance did not shift links left")
	}
	if c.Links[CurrentKeyIndex-2] != second {
		t.Fatalf("Advance shifted links incorrectly")
	}
	if c.LastAckTime != 1700000000 {
		t.Fatalf("Advance did not record LastAckTime")
	}
}

func TestAckAndAdvanceDomainSeparated(t *testing.T) {
	c, err := Init(testSeed(t))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ack := c.AckProof([32]byte{1, 2, 3}, 100)
	fresh := c.Advance([]byte("transcript"), 100)
	if ack == fresh {
		t.Fatalf("ack proof collided with advance output")
	}
}

func TestFriendshipIDSymmetric(t *testing.T) {
	a := [32]byte{1}
	b := [32]byte{2}
	id1 := FriendshipID(a, b)
	id2 := FriendshipID(b, a)
	if id1 != id2 {
		t.Fatalf("FriendshipID is not symmetric under argument order")
	}
	id3 := FriendshipID(a, [32]byte{3})
	if id1 == id3 {
		t.Fatalf("FriendshipID did not change for a different participant set")
	}
}

func TestScratchPadDeterministic(t *testing.T) {
	c, err := Init(testSeed(t))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	salt := [32]byte{9, 9, 9}
	a := c.ScratchPad(c.CurrentLink(), salt)
	b := c.ScratchPad(c.CurrentLink(), salt)
	if len(a) != scratchPadSize || len(b) != scratchPadSize {
		t.Fatalf("unexpected scratch pad size: %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("ScratchPad is not deterministic at offset %d", i)
		}
	}
}
