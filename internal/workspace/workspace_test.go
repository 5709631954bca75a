package workspace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationAcrossUsersWithSameWorkspaceID(t *testing.T) {
	m := NewManager()

	_, err := m.Register("alice", "proj", "/home/alice/proj", []string{"go"})
	require.NoError(t, err)
	_, err = m.Register("bob", "proj", "/home/bob/proj", []string{"rust"})
	require.NoError(t, err)

	aliceList := m.List("alice")
	require.Len(t, aliceList, 1)
	assert.Equal(t, "/home/alice/proj", aliceList[0].Root)

	bobList := m.List("bob")
	require.Len(t, bobList, 1)
	assert.Equal(t, "/home/bob/proj", bobList[0].Root)

	aliceWS, err := m.Get("alice", "proj")
	require.NoError(t, err)
	bobWS, err := m.Get("bob", "proj")
	require.NoError(t, err)
	assert.NotEqual(t, aliceWS.LanguageHints, bobWS.LanguageHints)
}

func TestGetOnOtherUsersWorkspaceIsNotFound(t *testing.T) {
	m := NewManager()
	_, err := m.Register("alice", "proj", "/home/alice/proj", nil)
	require.NoError(t, err)

	_, err = m.Get("bob", "proj")
	assert.ErrorIs(t, err, ErrNotFound)

	list := m.List("bob")
	assert.Empty(t, list)
}

func TestDeregisterThenGetIsNotFound(t *testing.T) {
	m := NewManager()
	_, err := m.Register("alice", "proj", "/home/alice/proj", nil)
	require.NoError(t, err)

	require.NoError(t, m.Deregister("alice", "proj"))
	_, err = m.Get("alice", "proj")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRegisterAcrossUsers(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	users := []string{"alice", "bob", "carol", "dave"}
	for _, u := range users {
		u := u
		for i := 0; i < 20; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Register(u, "", "/ws", nil)
				assert.NoError(t, err)
			}()
			_ = i
		}
	}
	wg.Wait()

	for _, u := range users {
		assert.Len(t, m.List(u), 20)
	}
}
