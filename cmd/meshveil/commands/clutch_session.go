package commands

import (
	"fmt"
	"time"

	"meshveil/chain"
	"meshveil/clutch"
)

// runTwoPartyCeremony drives a CLUTCH ceremony against a single peer
// to completion over the relay, posting and fetching offers and
// responses until a shared seed is established. With exactly two
// participants there is only one pair, so each side's own pair digest
// already matches the other's (both derive it from the same eight
// shared secrets) and never needs to be broadcast; an N-party mesh
// with N>2 would additionally need to exchange PairDigests for pairs a
// participant is not itself part of. Both the "ceremony" and "respond"
// commands call this: the protocol has no initiator/responder
// distinction (which side of a pair encapsulates is decided by
// comparing handle hashes, not by who ran a command first), so which
// command a user types first makes no cryptographic difference.
func runTwoPartyCeremony(ownHash, peerHash [32]byte, timeout time.Duration) ([]byte, error) {
	ceremony, offer, err := clutch.NewCeremony(ownHash, [][32]byte{ownHash, peerHash})
	if err != nil {
		return nil, err
	}
	if err := relayClient.PostOffer(offer); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	responded := false
	for {
		if !responded {
			peerOffer, err := pollForPeerOffer(offer.CeremonyID, peerHash, deadline)
			if err != nil {
				return nil, err
			}
			if peerOffer != nil {
				resp, err := ceremony.AddOffer(peerOffer)
				if err != nil {
					return nil, err
				}
				if resp != nil {
					if err := relayClient.PostResponse(resp); err != nil {
						return nil, err
					}
				}
				responded = true
			}
		}

		if responded && !ceremony.ReadyForDigests() {
			resps, err := relayClient.FetchResponses(offer.CeremonyID)
			if err != nil {
				return nil, err
			}
			for _, resp := range resps {
				if resp.To != ownHash {
					continue
				}
				if err := ceremony.AddResponse(resp); err != nil {
					return nil, err
				}
			}
		}

		if responded && ceremony.ReadyForDigests() && ceremony.State() != clutch.Established {
			if _, err := ceremony.OwnPairDigests(); err != nil {
				return nil, err
			}
		}

		if ceremony.State() == clutch.Established {
			return ceremony.Seed()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out running ceremony with peer")
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// confirmCeremony exchanges chain.ConfirmProof values over the relay
// once both sides have initialized a chain from the same CLUTCH seed,
// catching a divergence between the two derived chains before either
// side persists one. Because chain.Init is deterministic in its seed
// and ConfirmProof only reads links Init itself wrote, a mismatch here
// can only mean the ceremony's seed agreement itself was broken.
func confirmCeremony(ownHash, peerHash [32]byte, c *chain.ParticipantChain, timeout time.Duration) error {
	ceremonyID := clutch.CeremonyID([][32]byte{ownHash, peerHash})
	ownProof := c.ConfirmProof(ceremonyID)
	if err := relayClient.PostConfirm(ceremonyID, ownHash, ownProof); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		entries, err := relayClient.FetchConfirms(ceremonyID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.From != peerHash {
				continue
			}
			if e.Proof != ownProof {
				return fmt.Errorf("ceremony confirmation mismatch with %x: peer derived a different chain", peerHash)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %x's ceremony confirmation", peerHash)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func pollForPeerOffer(ceremonyID, peerHash [32]byte, deadline time.Time) (*clutch.Offer, error) {
	for {
		offers, err := relayClient.FetchOffers(ceremonyID)
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			if o.From == peerHash {
				return o, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for %x's offer", peerHash)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
