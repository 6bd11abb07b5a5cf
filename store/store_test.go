package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"meshveil/chain"
	"meshveil/identity"
)

func TestIdentityStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewIdentityStore(dir)

	id, err := identity.New("alice")
	require.NoError(t, err)
	require.NoError(t, s.Save("correct horse battery staple", id))

	loaded, err := s.Load("correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, id.Handle, loaded.Handle)

	_, err = s.Load("wrong passphrase")
	require.Error(t, err)
}

func TestChainStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewChainStore(dir)

	seed := make([]byte, 256)
	for i := range seed {
		seed[i] = byte(i)
	}
	c, err := chain.Init(seed)
	require.NoError(t, err)
	c.LastAckTime = 1700000123
	var friendshipID [32]byte
	friendshipID[0] = 7

	require.NoError(t, s.Save(friendshipID, c))
	loaded, err := s.Load(friendshipID)
	require.NoError(t, err)
	require.Equal(t, c.Links, loaded.Links)
	require.Equal(t, c.LastAckTime, loaded.LastAckTime)
}
