package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureSet_AddContains(t *testing.T) {
	s := NewSignatureSet(10, time.Minute)
	require.NotNil(t, s)

	assert.False(t, s.Contains("sigA"))
	s.Add("sigA")
	assert.True(t, s.Contains("sigA"))
	assert.Equal(t, 1, s.Len())

	hits, misses := s.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestSignatureSet_EvictsOldest(t *testing.T) {
	s := NewSignatureSet(2, time.Minute)
	s.Add("a")
	s.Add("b")
	s.Add("c")

	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
	assert.Equal(t, 2, s.Len())
}

func TestSignatureSet_ReAddRefreshesOrder(t *testing.T) {
	s := NewSignatureSet(2, time.Minute)
	s.Add("a")
	s.Add("b")
	s.Add("a")
	s.Add("c")

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
}

func TestSignatureSet_TTLExpiration(t *testing.T) {
	s := NewSignatureSet(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return now }

	s.Add("sigA")
	now = now.Add(30 * time.Second)
	assert.True(t, s.Contains("sigA"))

	now = now.Add(31 * time.Second)
	assert.False(t, s.Contains("sigA"))
	assert.Equal(t, 0, s.Len(), "expired entry is removed on lookup")
}

func TestSignatureSet_NilIsInert(t *testing.T) {
	s := NewSignatureSet(0, time.Minute)
	assert.Nil(t, s)

	s.Add("sigA")
	assert.False(t, s.Contains("sigA"))
	assert.Equal(t, 0, s.Len())
	hits, misses := s.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestSignatureSet_ConcurrentAccess(t *testing.T) {
	s := NewSignatureSet(100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sig := fmt.Sprintf("sig-%d-%d", g, i)
				s.Add(sig)
				s.Contains(sig)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 100)
}
