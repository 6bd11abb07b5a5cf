// Package relay implements the HTTP store-and-forward transport used
// to exchange CLUTCH offers/responses and CHAIN envelopes between
// participants who are not simultaneously online.
package relay

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"meshveil/clutch"
	"meshveil/envelope"
	"meshveil/primitives"
)

// Client is an HTTP client for the meshveil relay.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a Client pointed at base.
func NewClient(base string) *Client {
	return &Client{Base: base, HTTP: http.DefaultClient}
}

// offerWire is the JSON wire form of a clutch.Offer.
type offerWire struct {
	CeremonyID   string      `json:"ceremony_id"`
	HandleHashes []string    `json:"handle_hashes"`
	From         string      `json:"from"`
	Publics      publicsWire `json:"publics"`
}

type publicsWire struct {
	X25519         []byte `json:"x25519"`
	P384           []byte `json:"p384"`
	Secp256k1      []byte `json:"secp256k1"`
	MLKEM1024      []byte `json:"mlkem1024"`
	NTRUHPS4096821 []byte `json:"ntru"`
	FrodoKEM976    []byte `json:"frodo"`
	HQC256         []byte `json:"hqc"`
	McEliece460896 []byte `json:"mceliece"`
}

func toPublicsWire(p primitives.EphemeralPublics) publicsWire {
	return publicsWire{
		X25519: p.X25519, P384: p.P384, Secp256k1: p.Secp256k1,
		MLKEM1024: p.MLKEM1024, NTRUHPS4096821: p.NTRUHPS4096821,
		FrodoKEM976: p.FrodoKEM976, HQC256: p.HQC256, McEliece460896: p.McEliece460896,
	}
}

func fromPublicsWire(w publicsWire) primitives.EphemeralPublics {
	return primitives.EphemeralPublics{
		X25519: w.X25519, P384: w.P384, Secp256k1: w.Secp256k1,
		MLKEM1024: w.MLKEM1024, NTRUHPS4096821: w.NTRUHPS4096821,
		FrodoKEM976: w.FrodoKEM976, HQC256: w.HQC256, McEliece460896: w.McEliece460896,
	}
}

// PostOffer publishes a CLUTCH offer for the given recipients.
func (c *Client) PostOffer(offer *clutch.Offer) error {
	handles := make([]string, len(offer.HandleHashes))
	for i, h := range offer.HandleHashes {
		handles[i] = hexEncode(h[:])
	}
	wire := offerWire{
		CeremonyID:   hexEncode(offer.CeremonyID[:]),
		HandleHashes: handles,
		From:         hexEncode(offer.From[:]),
		Publics:      toPublicsWire(offer.Publics),
	}
	return c.post("/clutch/offer", wire, nil)
}

// FetchOffers retrieves every offer posted so far against a ceremony
// ID: in an N-party mesh every participant's offer lands at the same
// ceremony ID, so a peer's offer must be picked out of the list by its
// From field rather than fetched individually.
func (c *Client) FetchOffers(ceremonyID [32]byte) ([]*clutch.Offer, error) {
	var wires []offerWire
	if err := c.getJSON("/clutch/offer/"+hexEncode(ceremonyID[:]), &wires); err != nil {
		return nil, err
	}
	out := make([]*clutch.Offer, 0, len(wires))
	for _, wire := range wires {
		handles := make([][32]byte, len(wire.HandleHashes))
		for i, h := range wire.HandleHashes {
			copy(handles[i][:], hexDecode(h))
		}
		var cid, from [32]byte
		copy(cid[:], hexDecode(wire.CeremonyID))
		copy(from[:], hexDecode(wire.From))
		out = append(out, &clutch.Offer{
			CeremonyID:   cid,
			HandleHashes: handles,
			From:         from,
			Publics:      fromPublicsWire(wire.Publics),
		})
	}
	return out, nil
}

// responseWire is the JSON wire form of a clutch.Response.
type responseWire struct {
	CeremonyID  string          `json:"ceremony_id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Ciphertexts ciphertextsWire `json:"ciphertexts"`
}

type ciphertextsWire struct {
	MLKEM1024      []byte `json:"mlkem1024"`
	NTRUHPS4096821 []byte `json:"ntru"`
	FrodoKEM976    []byte `json:"frodo"`
	HQC256         []byte `json:"hqc"`
	McEliece460896 []byte `json:"mceliece"`
}

func toCiphertextsWire(c primitives.Ciphertexts) ciphertextsWire {
	return ciphertextsWire{
		MLKEM1024: c.MLKEM1024, NTRUHPS4096821: c.NTRUHPS4096821,
		FrodoKEM976: c.FrodoKEM976, HQC256: c.HQC256, McEliece460896: c.McEliece460896,
	}
}

func fromCiphertextsWire(w ciphertextsWire) primitives.Ciphertexts {
	return primitives.Ciphertexts{
		MLKEM1024: w.MLKEM1024, NTRUHPS4096821: w.NTRUHPS4096821,
		FrodoKEM976: w.FrodoKEM976, HQC256: w.HQC256, McEliece460896: w.McEliece460896,
	}
}

// PostResponse publishes a CLUTCH response addressed to the offerer.
func (c *Client) PostResponse(resp *clutch.Response) error {
	wire := responseWire{
		CeremonyID:  hexEncode(resp.CeremonyID[:]),
		From:        hexEncode(resp.From[:]),
		To:          hexEncode(resp.To[:]),
		Ciphertexts: toCiphertextsWire(resp.Ciphertexts),
	}
	return c.post("/clutch/kem", wire, nil)
}

// FetchResponses retrieves every response posted so far against a
// ceremony ID.
func (c *Client) FetchResponses(ceremonyID [32]byte) ([]*clutch.Response, error) {
	var wires []responseWire
	if err := c.getJSON("/clutch/kem/"+hexEncode(ceremonyID[:]), &wires); err != nil {
		return nil, err
	}
	out := make([]*clutch.Response, 0, len(wires))
	for _, w := range wires {
		var cid, from, to [32]byte
		copy(cid[:], hexDecode(w.CeremonyID))
		copy(from[:], hexDecode(w.From))
		copy(to[:], hexDecode(w.To))
		out = append(out, &clutch.Response{
			CeremonyID:  cid,
			From:        from,
			To:          to,
			Ciphertexts: fromCiphertextsWire(w.Ciphertexts),
		})
	}
	return out, nil
}

// confirmWire is the JSON wire form of a ceremony-completion
// confirmation.
type confirmWire struct {
	CeremonyID string `json:"ceremony_id"`
	From       string `json:"from"`
	Proof      string `json:"proof"`
}

// ConfirmEntry is one participant's ceremony-completion confirmation
// proof, as retrieved by FetchConfirms.
type ConfirmEntry struct {
	From  [32]byte
	Proof [32]byte
}

// PostConfirm publishes this participant's ceremony-completion
// confirmation: chain.ConfirmProof computed against the chain they
// just derived from the CLUTCH seed. Since every participant derives
// that chain deterministically from the same agreed seed, comparing
// proofs lets both sides catch a divergence before either one trusts
// the chain enough to persist it.
func (c *Client) PostConfirm(ceremonyID, from, proof [32]byte) error {
	wire := confirmWire{
		CeremonyID: hexEncode(ceremonyID[:]),
		From:       hexEncode(from[:]),
		Proof:      hexEncode(proof[:]),
	}
	return c.post("/clutch/confirm", wire, nil)
}

// FetchConfirms retrieves every ceremony-completion confirmation
// posted so far against a ceremony ID.
func (c *Client) FetchConfirms(ceremonyID [32]byte) ([]ConfirmEntry, error) {
	var wires []confirmWire
	if err := c.getJSON("/clutch/confirm/"+hexEncode(ceremonyID[:]), &wires); err != nil {
		return nil, err
	}
	out := make([]ConfirmEntry, 0, len(wires))
	for _, w := range wires {
		var entry ConfirmEntry
		copy(entry.From[:], hexDecode(w.From))
		copy(entry.Proof[:], hexDecode(w.Proof))
		out = append(out, entry)
	}
	return out, nil
}

// SendEnvelope delivers a CHAIN envelope to a recipient's inbox.
func (c *Client) SendEnvelope(recipientHandleHash [32]byte, env *envelope.Envelope) error {
	raw, err := envelope.Marshal(env)
	if err != nil {
		return err
	}
	return c.post("/msg/"+hexEncode(recipientHandleHash[:]), raw, nil)
}

// FetchEnvelopes retrieves queued envelopes for a recipient.
func (c *Client) FetchEnvelopes(recipientHandleHash [32]byte) ([]*envelope.Envelope, error) {
	var raws [][]byte
	if err := c.getJSON("/msg/"+hexEncode(recipientHandleHash[:]), &raws); err != nil {
		return nil, err
	}
	out := make([]*envelope.Envelope, 0, len(raws))
	for _, raw := range raws {
		env, err := envelope.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// Register submits a handle hash and its handle proof to the relay,
// reusing the registerRequest wire type server.go decodes.
func (c *Client) Register(handleHash, proof [32]byte) error {
	return c.post("/register", registerRequest{
		HandleHash: hexEncode(handleHash[:]),
		Proof:      hexEncode(proof[:]),
	}, nil)
}

func (c *Client) post(path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay post %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }
func hexDecode(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
