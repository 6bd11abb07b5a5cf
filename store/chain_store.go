package store

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"meshveil/chain"
)

// chainBlobSize is the total on-disk size of a persisted
// ParticipantChain: the 16KB link array plus an 8-byte big-endian
// LastAckTime trailer.
const chainBlobSize = chain.ChainSize + 8

// ChainStore persists one ParticipantChain per friendship on disk as
// a raw binary blob, atomically replaced on every advance.
type ChainStore struct {
	dir string
	mu  sync.Mutex
}

// NewChainStore returns a ChainStore rooted at dir.
func NewChainStore(dir string) *ChainStore {
	return &ChainStore{dir: dir}
}

func (s *ChainStore) path(friendshipID [32]byte) string {
	return filepath.Join(s.dir, "friendships", hex.EncodeToString(friendshipID[:]), "chain.bin")
}

// Save writes c to disk, replacing any previous blob atomically.
func (s *ChainStore) Save(friendshipID [32]byte, c *chain.ParticipantChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, chainBlobSize)
	for i := 0; i < chain.LinkCount; i++ {
		copy(buf[i*chain.LinkSize:(i+1)*chain.LinkSize], c.Links[i][:])
	}
	binary.BigEndian.PutUint64(buf[chain.ChainSize:], uint64(c.LastAckTime))
	return writeFile(s.path(friendshipID), buf, 0o600)
}

// Load reads the persisted chain for a friendship, if any.
func (s *ChainStore) Load(friendshipID [32]byte) (*chain.ParticipantChain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path(friendshipID))
	if err != nil {
		return nil, err
	}
	if b == nil || len(b) != chainBlobSize {
		return nil, os.ErrNotExist
	}
	var c chain.ParticipantChain
	for i := 0; i < chain.LinkCount; i++ {
		copy(c.Links[i][:], b[i*chain.LinkSize:(i+1)*chain.LinkSize])
	}
	c.LastAckTime = int64(binary.BigEndian.Uint64(b[chain.ChainSize:]))
	return &c, nil
}
