package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLookupRemove(t *testing.T) {
	t.Parallel()

	r := New()

	require.True(t, r.Add("alice", Endpoint{Host: "127.0.0.1", Port: 9010}, ""))

	reg, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.EqualValues(t, 9010, reg.Endpoint.Port)

	assert.True(t, r.Remove("alice"))

	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestAddCollisionFails(t *testing.T) {
	t.Parallel()

	r := New()

	require.True(t, r.Add("dave", Endpoint{Host: "127.0.0.1", Port: 9010}, ""))
	assert.False(t, r.Add("dave", Endpoint{Host: "127.0.0.1", Port: 9011}, ""))

	reg, ok := r.Lookup("dave")
	require.True(t, ok)
	assert.EqualValues(t, 9010, reg.Endpoint.Port, "collision must not overwrite the existing registration")
}

func TestRemoveAbsentKey(t *testing.T) {
	t.Parallel()

	r := New()
	assert.False(t, r.Remove("nobody"))
}

func TestProxyinitThenProxystopRestoresState(t *testing.T) {
	t.Parallel()

	r := New()
	before := r.Len()

	require.True(t, r.Add("k", Endpoint{Host: "127.0.0.1", Port: 1}, ""))
	require.True(t, r.Remove("k"))

	assert.Equal(t, before, r.Len())
}

func TestEvictionThenReregisterSucceeds(t *testing.T) {
	t.Parallel()

	r := New()

	require.True(t, r.Add("carol", Endpoint{Host: "127.0.0.1", Port: 9099}, ""))
	require.True(t, r.Remove("carol"))
	assert.True(t, r.Add("carol", Endpoint{Host: "127.0.0.1", Port: 9011}, ""))
}

func TestConcurrentAddExactlyOneWins(t *testing.T) {
	t.Parallel()

	r := New()

	const attempts = 64
	var wg sync.WaitGroup
	results := make([]bool, attempts)

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = r.Add("shared", Endpoint{Host: "127.0.0.1", Port: uint16(9000 + i)}, "")
		}()
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}

	assert.Equal(t, 1, wins)
}
