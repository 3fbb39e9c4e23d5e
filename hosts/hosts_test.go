package hosts

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) authority.Authority {
	a, err := authority.Parse(s)
	require.NoError(t, err)
	return a
}

func TestStoreDedupAndEviction(t *testing.T) {
	h := New(2, filepath.Join(t.TempDir(), "hosts.txt"), rand.New(rand.NewSource(1)))

	a := mustParse(t, "1.1.1.1:8333")
	b := mustParse(t, "2.2.2.2:8333")
	c := mustParse(t, "3.3.3.3:8333")

	h.Store(a)
	h.Store(a) // duplicate, no growth
	require.Equal(t, 1, h.Count())

	h.Store(b)
	require.Equal(t, 2, h.Count())

	// At capacity: storing c evicts the least-recently-stored (a).
	h.Store(c)
	require.Equal(t, 2, h.Count())

	sample := h.Sample(10)
	keys := map[string]bool{}
	for _, s := range sample {
		keys[s.Key()] = true
	}
	require.False(t, keys[a.Key()])
	require.True(t, keys[b.Key()])
	require.True(t, keys[c.Key()])
}

func TestFetchEmptyIsNotFound(t *testing.T) {
	h := New(10, filepath.Join(t.TempDir(), "hosts.txt"), nil)
	_, err := h.Fetch()
	require.True(t, p2perr.Is(err, p2perr.NotFound))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	h := New(10, path, nil)
	h.Store(mustParse(t, "1.1.1.1:8333"))
	h.Store(mustParse(t, "[2001:db8::1]:8333"))

	require.NoError(t, h.Save())

	h2 := New(10, path, nil)
	require.NoError(t, h2.Load())
	require.Equal(t, 2, h2.Count())
}

func TestLoadMissingFileIsEmptyPool(t *testing.T) {
	h := New(10, filepath.Join(t.TempDir(), "does-not-exist.txt"), nil)
	require.NoError(t, h.Load())
	require.Equal(t, 0, h.Count())
}

func TestRemove(t *testing.T) {
	h := New(10, filepath.Join(t.TempDir(), "hosts.txt"), nil)
	a := mustParse(t, "1.1.1.1:8333")
	h.Store(a)
	require.Equal(t, 1, h.Count())
	h.Remove(a)
	require.Equal(t, 0, h.Count())
}

func TestCapacityNeverExceeded(t *testing.T) {
	h := New(5, filepath.Join(t.TempDir(), "hosts.txt"), nil)
	for i := 0; i < 50; i++ {
		h.Store(authority.FromIP(net4(i), 8333))
	}
	require.LessOrEqual(t, h.Count(), 5)
}

func net4(i int) []byte {
	return []byte{10, 0, byte(i >> 8), byte(i)}
}
