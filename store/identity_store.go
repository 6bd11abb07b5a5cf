package store

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"meshveil/identity"
)

const identityFilename = "identity.json.enc"

// identityRecord is the JSON-serializable form of identity.Identity.
type identityRecord struct {
	Handle      string `json:"handle"`
	SigningPriv []byte `json:"signing_priv"`
	SigningPub  []byte `json:"signing_pub"`
}

// IdentityStore persists a local identity to an encrypted file.
type IdentityStore struct {
	dir string
	mu  sync.Mutex
}

// NewIdentityStore returns an IdentityStore rooted at dir.
func NewIdentityStore(dir string) *IdentityStore {
	return &IdentityStore{dir: dir}
}

// Save writes the encrypted identity to disk.
func (s *IdentityStore) Save(passphrase string, id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(identityRecord{
		Handle:      id.Handle,
		SigningPriv: id.SigningPriv,
		SigningPub:  id.SigningPub,
	})
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	ct, err := encrypt(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, identityFilename), ct, 0o600)
}

// Load reads and decrypts the identity.
func (s *IdentityStore) Load(passphrase string) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.dir, identityFilename))
	if err != nil {
		return nil, err
	}
	pt, err := decrypt(passphrase, b)
	if err != nil {
		return nil, err
	}
	var rec identityRecord
	if err := json.Unmarshal(pt, &rec); err != nil {
		return nil, err
	}
	return &identity.Identity{
		Handle:      rec.Handle,
		SigningPriv: ed25519.PrivateKey(rec.SigningPriv),
		SigningPub:  ed25519.PublicKey(rec.SigningPub),
	}, nil
}
