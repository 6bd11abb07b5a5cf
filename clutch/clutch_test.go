package clutch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"meshveil/identity"
)

// runCeremony drives N in-memory Ceremony instances to completion by
// shuttling their offers, responses and pair digests between each
// other exactly as a relay would, and returns each participant's
// established Ceremony in handle order.
func runCeremony(t *testing.T, handles [][32]byte) []*Ceremony {
	t.Helper()
	ceremonies := make(map[[32]byte]*Ceremony, len(handles))
	offers := make([]*Offer, 0, len(handles))
	for _, h := range handles {
		c, offer, err := NewCeremony(h, handles)
		require.NoError(t, err)
		ceremonies[h] = c
		offers = append(offers, offer)
	}

	var responses []*Response
	for _, c := range ceremonies {
		for _, offer := range offers {
			if offer.From == c.ownHandleHash {
				continue
			}
			resp, err := c.AddOffer(offer)
			require.NoError(t, err)
			if resp != nil {
				responses = append(responses, resp)
			}
		}
	}
	for _, c := range ceremonies {
		for _, resp := range responses {
			if resp.To == c.ownHandleHash {
				require.NoError(t, c.AddResponse(resp))
			}
		}
	}

	var digests []PairDigest
	for _, c := range ceremonies {
		require.True(t, c.ReadyForDigests())
		own, err := c.OwnPairDigests()
		require.NoError(t, err)
		digests = append(digests, own...)
	}
	for _, c := range ceremonies {
		for _, d := range digests {
			require.NoError(t, c.AddPairDigest(d))
		}
	}

	out := make([]*Ceremony, len(handles))
	for i, h := range handles {
		out[i] = ceremonies[h]
	}
	return out
}

func TestTwoPartySeedAgreement(t *testing.T) {
	aliceHash := identity.HandleHash("alice")
	bobHash := identity.HandleHash("bob")

	parties := runCeremony(t, [][32]byte{aliceHash, bobHash})
	require.Equal(t, Established, parties[0].State())
	require.Equal(t, Established, parties[1].State())

	aliceSeed, err := parties[0].Seed()
	require.NoError(t, err)
	bobSeed, err := parties[1].Seed()
	require.NoError(t, err)

	require.Len(t, aliceSeed, 256)
	require.Len(t, bobSeed, 256)
	require.Equal(t, aliceSeed, bobSeed)
}

func TestThreePartySeedAgreement(t *testing.T) {
	aliceHash := identity.HandleHash("alice")
	bobHash := identity.HandleHash("bob")
	carolHash := identity.HandleHash("carol")

	parties := runCeremony(t, [][32]byte{aliceHash, bobHash, carolHash})
	require.Len(t, parties, 3)

	seeds := make([][]byte, len(parties))
	for i, p := range parties {
		require.Equal(t, Established, p.State())
		seed, err := p.Seed()
		require.NoError(t, err)
		require.Len(t, seed, 256)
		seeds[i] = seed
	}
	require.Equal(t, seeds[0], seeds[1])
	require.Equal(t, seeds[1], seeds[2])
}

func TestFivePartySeedAgreement(t *testing.T) {
	handles := [][32]byte{
		identity.HandleHash("alice"),
		identity.HandleHash("bob"),
		identity.HandleHash("carol"),
		identity.HandleHash("dave"),
		identity.HandleHash("erin"),
	}

	parties := runCeremony(t, handles)
	require.Len(t, parties, 5)

	seed, err := parties[0].Seed()
	require.NoError(t, err)
	for _, p := range parties[1:] {
		require.Equal(t, Established, p.State())
		other, err := p.Seed()
		require.NoError(t, err)
		require.Equal(t, seed, other)
	}
}

func TestUnknownHandleRejected(t *testing.T) {
	aliceHash := identity.HandleHash("alice")
	bobHash := identity.HandleHash("bob")
	eveHash := identity.HandleHash("eve")

	_, offer, err := NewCeremony(aliceHash, [][32]byte{aliceHash, bobHash})
	require.NoError(t, err)

	eve, _, err := NewCeremony(eveHash, [][32]byte{eveHash, aliceHash})
	require.NoError(t, err)

	_, err = eve.AddOffer(offer)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestCeremonyIDStableUnderPeerOrder(t *testing.T) {
	a := identity.HandleHash("alice")
	b := identity.HandleHash("bob")
	c := identity.HandleHash("carol")

	id1 := CeremonyID([][32]byte{a, b, c})
	id2 := CeremonyID([][32]byte{a, c, b})

	require.Equal(t, id1, id2)
}
