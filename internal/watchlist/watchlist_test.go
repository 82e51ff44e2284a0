package watchlist

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/logger"
)

func newRegistry(defaults ...string) *Registry {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return New(defaults, log)
}

func TestDefaults(t *testing.T) {
	r := newRegistry("bitcoin", " Ethereum ", "", "bitcoin")
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"bitcoin", "ethereum"}, r.All())
}

func TestAddRemove(t *testing.T) {
	r := newRegistry()
	assert.True(t, r.Add("solana"))
	assert.True(t, r.Add("solana"))
	assert.False(t, r.Add("  "))
	assert.True(t, r.Has("SOLANA"))
	assert.Equal(t, 1, r.Count())

	assert.True(t, r.Remove("solana"))
	assert.False(t, r.Remove("solana"))
	assert.False(t, r.Has("solana"))
}

func TestToggleTwiceRestores(t *testing.T) {
	for _, start := range []bool{false, true} {
		r := newRegistry()
		if start {
			r.Add("cardano")
		}
		before := r.Has("cardano")
		first := r.Toggle("cardano")
		second := r.Toggle("cardano")
		assert.Equal(t, !before, first)
		assert.Equal(t, before, second)
		assert.Equal(t, before, r.Has("cardano"))
	}
}

func TestImportReplaces(t *testing.T) {
	r := newRegistry("bitcoin")
	r.Import([]string{"dogecoin", "ripple", "dogecoin"})
	assert.Equal(t, []string{"dogecoin", "ripple"}, r.All())

	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestJSONRoundTrip(t *testing.T) {
	r := newRegistry("polkadot", "bitcoin")
	data, err := r.ExportJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["bitcoin","polkadot"]`, string(data))

	other := newRegistry()
	require.NoError(t, other.ImportJSON(data))
	assert.Equal(t, r.All(), other.All())

	assert.Error(t, other.ImportJSON([]byte(`{"bitcoin":true}`)))
	assert.Equal(t, 2, other.Count())
}

func TestSetIsCopy(t *testing.T) {
	r := newRegistry("bitcoin")
	s := r.Set()
	delete(s, "bitcoin")
	assert.True(t, r.Has("bitcoin"))
}

func TestConcurrentToggle(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Toggle("bitcoin")
			_ = r.All()
		}()
	}
	wg.Wait()
	// 50 toggles leave the set as it started.
	assert.False(t, r.Has("bitcoin"))
}
