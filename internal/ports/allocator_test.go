package ports

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndRelease(t *testing.T) {
	a, err := NewAllocator(4000, 4002)
	require.NoError(t, err)

	p1, err := a.Allocate("site-1")
	require.NoError(t, err)
	p2, err := a.Allocate("site-2")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	got, ok := a.PortOf("site-1")
	assert.True(t, ok)
	assert.Equal(t, p1, got)

	a.Release("site-1")
	_, ok = a.PortOf("site-1")
	assert.False(t, ok)

	// Freed port becomes reusable.
	p3, err := a.Allocate("site-3")
	require.NoError(t, err)
	assert.NotEqual(t, p2, p3)
}

func TestAllocateIsIdempotentPerWebsite(t *testing.T) {
	a, err := NewAllocator(4000, 4005)
	require.NoError(t, err)

	p1, err := a.Allocate("site-1")
	require.NoError(t, err)
	p2, err := a.Allocate("site-1")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, a.InUse())
}

func TestReleaseUnknownIsNoOp(t *testing.T) {
	a, err := NewAllocator(4000, 4001)
	require.NoError(t, err)
	a.Release("never-allocated")
	assert.Equal(t, 0, a.InUse())
}

func TestExhaustion(t *testing.T) {
	a, err := NewAllocator(4000, 4001)
	require.NoError(t, err)

	_, err = a.Allocate("site-1")
	require.NoError(t, err)
	_, err = a.Allocate("site-2")
	require.NoError(t, err)

	_, err = a.Allocate("site-3")
	assert.ErrorIs(t, err, ErrNoFreePorts)

	a.Release("site-1")
	_, err = a.Allocate("site-3")
	assert.NoError(t, err)
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	a, err := NewAllocator(4000, 4099)
	require.NoError(t, err)

	const n = 50
	results := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := a.Allocate(websiteID(i))
			if err == nil {
				results[i] = port
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, port := range results {
		require.NotZero(t, port)
		assert.False(t, seen[port], "port %d allocated twice", port)
		seen[port] = true
	}
}

func TestReconcileSeedsHeldPorts(t *testing.T) {
	a, err := NewAllocator(4000, 4002)
	require.NoError(t, err)

	a.Reconcile(map[string]int{"site-1": 4001})

	got, ok := a.PortOf("site-1")
	require.True(t, ok)
	assert.Equal(t, 4001, got)

	// 4001 is never handed to anyone else.
	p1, err := a.Allocate("site-2")
	require.NoError(t, err)
	p2, err := a.Allocate("site-3")
	require.NoError(t, err)
	assert.NotEqual(t, 4001, p1)
	assert.NotEqual(t, 4001, p2)
}

func TestInvalidRange(t *testing.T) {
	_, err := NewAllocator(5000, 4000)
	assert.Error(t, err)
}

func websiteID(i int) string {
	return "site-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
