package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicManager64GrowsBeyondInitialBlock(t *testing.T) {
	t.Parallel()
	m, err := NewDynamicManager64(16, 4, 4)
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		h := m.Alloc()
		require.NotEqual(t, InvalidHandle64, h, "iteration %d", i)
		assert.False(t, seen[h.Index()], "index %d reused while still allocated", h.Index())
		seen[h.Index()] = true
	}
	assert.GreaterOrEqual(t, m.AllocatedCount(), uint64(10))
}

func TestDynamicManager64AllocReleaseRoundTrip(t *testing.T) {
	t.Parallel()
	m, err := NewDynamicManager64(16, 4, 4)
	require.NoError(t, err)

	h := m.Alloc()
	require.NotEqual(t, InvalidHandle64, h)
	assert.True(t, m.IsValid(h))
	m.Release(h)
	assert.False(t, m.IsValid(h))
}

func TestDynamicManager64NeverReissueLeaksWrappedSlot(t *testing.T) {
	t.Parallel()
	m, err := NewDynamicManager64(16, 4, 4, WithNeverReissueOldHandles(true))
	require.NoError(t, err)

	_ = m.Alloc() // consumes index 0; the anti-null slot has its own test below
	h := m.Alloc()
	require.NotEqual(t, InvalidHandle64, h)
	index := h.Index()
	require.NotEqual(t, uint64(0), index)

	block, intra := m.blockFor(index)
	block.generation(intra).store(genValueMask, genFlagAllocated)
	m.Release(encodeHandle64(index, genValueMask))

	assert.Equal(t, InvalidHandle64, m.IndexToHandle(index), "wrapped slot must be marked leaked, not reissuable")

	for i := 0; i < 8; i++ {
		h := m.Alloc()
		require.NotEqual(t, InvalidHandle64, h)
		assert.NotEqual(t, index, h.Index(), "a never_reissue slot must not be handed out again")
	}
}

// TestDynamicManager64NeverReissueLeaksIndexZero exercises the ordering
// spec.md §4.4 step 3 requires: never_reissue_old_handles must be checked
// before the index-0 anti-null guard, so index 0 still gets poisoned and
// leaked on wrap instead of being reset to generation 1 and pushed back
// onto a free/deferred list.
func TestDynamicManager64NeverReissueLeaksIndexZero(t *testing.T) {
	t.Parallel()
	m, err := NewDynamicManager64(16, 4, 4, WithNeverReissueOldHandles(true))
	require.NoError(t, err)

	h := m.Alloc()
	require.NotEqual(t, InvalidHandle64, h)
	require.Equal(t, uint64(0), h.Index(), "test assumes the slot under test is the anti-null index")

	block, intra := m.blockFor(0)
	block.generation(intra).store(genValueMask, genFlagAllocated)
	m.Release(encodeHandle64(0, genValueMask))

	assert.Equal(t, InvalidHandle64, m.IndexToHandle(0), "index 0 must be marked leaked, not reset to generation 1 and reissued")

	heads := m.heads.load()
	assert.NotEqual(t, uint64(0)|linkMarker64, heads.free, "index 0 must not be pushed onto the free list")
	assert.NotEqual(t, uint64(0)|linkMarker64, heads.deferred, "index 0 must not be pushed onto the deferred list")

	for i := 0; i < 8; i++ {
		h := m.Alloc()
		require.NotEqual(t, InvalidHandle64, h)
		assert.NotEqual(t, uint64(0), h.Index(), "index 0 must never be handed out again")
	}
}

func TestDynamicManager64ConcurrentGrowthAndRelease(t *testing.T) {
	const workers = 16
	const iterations = 500

	m, err := NewDynamicManager64(16, 8, 64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				h := m.Alloc()
				if h == InvalidHandle64 {
					continue
				}
				assert.True(t, m.IsValid(h))
				m.Release(h)
			}
		}()
	}
	wg.Wait()
}

func TestDynamicManager64CloneIsIndependentDeepCopy(t *testing.T) {
	t.Parallel()
	m, err := NewDynamicManager64(16, 4, 4)
	require.NoError(t, err)

	// Force a grow beyond the inline first block so the clone must copy
	// more than one directory entry.
	var handles []Handle64
	for i := 0; i < 6; i++ {
		h := m.Alloc()
		require.NotEqual(t, InvalidHandle64, h)
		handles = append(handles, h)
	}

	clone, err := m.Clone()
	require.NoError(t, err)
	for _, h := range handles {
		assert.True(t, clone.IsValid(h), "handle %#x valid in source at clone time must be valid in clone", uint64(h))
	}

	clone.Release(handles[0])
	assert.False(t, clone.IsValid(handles[0]))
	assert.True(t, m.IsValid(handles[0]), "releasing through the clone must not affect the source")

	h2 := m.Alloc()
	require.NotEqual(t, InvalidHandle64, h2)
	assert.Equal(t, InvalidHandle64, clone.IndexToHandle(h2.Index()), "allocations on the source must not be visible in the clone")
}

func TestNewDynamicManager64RejectsBadConfig(t *testing.T) {
	t.Parallel()
	_, err := NewDynamicManager64(4, 4, 4)
	assert.Error(t, err)

	_, err = NewDynamicManager64(16, 0, 4)
	assert.Error(t, err)

	_, err = NewDynamicManager64(16, 4, 0)
	assert.Error(t, err)
}
