package handle

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DynamicManager64 is the 64-bit counterpart to [DynamicManager32]: a
// growable slab allocator whose alloc/release fast path is lock-free and
// whose growth slow path reserves an index range with an atomic fetch-add,
// allocates and publishes a block, then CAS-splices it onto the free list.
// This is the closest of the four manager types to its source: it follows
// al2o3_handle's src/hande64.c AllocNewBlock64 directly, including the
// deferred-list promotion that AllocNewBlock64 performs before growing.
// hande64.c's generation-wrap handling has no delayed/quarantine list —
// that mechanism is unique to the 32-bit dynamic allocator — so a
// generation wrap here either leaks the slot (poisoned, when
// never_reissue_old_handles is set) or rejoins the deferred list directly,
// matching the source.
type DynamicManager64 struct {
	heads                         packedHead64
	blocksGrownSinceDeferredFlush uint32 // only ever touched under growMu

	deferredFlushThreshold uint32 // only ever touched under growMu
	totalAllocated         atomic.Uint64

	growMu sync.Mutex

	elementSize            int
	blockSize              uint64
	blockSizeMask          uint64
	blockSizeLog2          uint64
	maxBlocks              uint64
	neverReissueOldHandles bool
	dir                    *directory[slotBlock64]
	logger                 Logger
}

// NewDynamicManager64 creates a manager that starts with one block of
// blockSize slots (rounded up to a power of two) and grows, up to
// maxBlocks blocks total, as capacity is exhausted.
func NewDynamicManager64(elementSize int, blockSize, maxBlocks uint64, opts ...DynamicOption) (*DynamicManager64, error) {
	if elementSize < 8 {
		return nil, newConfigError("elementSize", "must be >= 8 (64-bit handle link width), got %d", elementSize)
	}
	if blockSize == 0 {
		return nil, newConfigError("blockSize", "must be > 0")
	}
	if maxBlocks == 0 {
		return nil, newConfigError("maxBlocks", "must be > 0")
	}
	roundedBlockSize := nextPow2u64(blockSize)
	if roundedBlockSize > 0 && maxBlocks > (uint64(MaxHandles64)+1)/roundedBlockSize {
		return nil, newConfigError("blockSize/maxBlocks", "block_size (%d) x max_blocks (%d) exceeds the 40-bit index space", roundedBlockSize, maxBlocks)
	}
	cfg := resolveDynamicOptions(opts)

	m := &DynamicManager64{
		elementSize:            elementSize,
		blockSize:              roundedBlockSize,
		blockSizeMask:          roundedBlockSize - 1,
		blockSizeLog2:          uint64(bits.TrailingZeros64(roundedBlockSize)),
		maxBlocks:              maxBlocks,
		neverReissueOldHandles: cfg.neverReissueOldHandles,
		dir:                    newDirectory[slotBlock64](uint32(maxBlocks)),
		deferredFlushThreshold: cfg.deferredFlushThreshold,
		logger:                 cfg.logger,
	}

	if !m.growNewBlock() {
		return nil, newConfigError("blockSize/maxBlocks", "failed to allocate the initial block")
	}
	return m, nil
}

// Close releases the manager's backing storage. The manager must not be
// used afterward.
func (m *DynamicManager64) Close() error {
	if m == nil {
		return nil
	}
	m.dir = nil
	return nil
}

// Clone takes a consistent snapshot of m — directory, totals, and growth
// tuning — and returns an independent manager: every handle valid in m at
// the moment of cloning is also valid in the clone, and subsequent
// allocation, release, or growth on one manager has no effect on the
// other. See [FixedManager64.Clone] for why this is a deep copy rather
// than the shared-reference alias al2o3_handle's C API would return.
// Clone holds the growth mutex, which excludes growth only: the snapshot
// is consistent only when no Alloc or Release runs on m while it is being
// taken.
func (m *DynamicManager64) Clone() (*DynamicManager64, error) {
	m.growMu.Lock()
	defer m.growMu.Unlock()

	clone := &DynamicManager64{
		elementSize:            m.elementSize,
		blockSize:              m.blockSize,
		blockSizeMask:          m.blockSizeMask,
		blockSizeLog2:          m.blockSizeLog2,
		maxBlocks:              m.maxBlocks,
		neverReissueOldHandles: m.neverReissueOldHandles,
		dir:                    m.dir.cloneWith((*slotBlock64).clone),
		logger:                 m.logger,
		blocksGrownSinceDeferredFlush: m.blocksGrownSinceDeferredFlush,
		deferredFlushThreshold:        m.deferredFlushThreshold,
	}
	clone.totalAllocated.Store(m.totalAllocated.Load())
	heads := m.heads.load()
	clone.heads.init(heads.free, heads.deferred)
	return clone, nil
}

// Lock acquires the manager's growth mutex.
func (m *DynamicManager64) Lock() { m.growMu.Lock() }

// Unlock releases the lock acquired by Lock.
func (m *DynamicManager64) Unlock() { m.growMu.Unlock() }

// SetDeferredFlushThreshold overrides the number of block growths that
// must occur before a grower will opportunistically promote the deferred
// list instead of growing again.
func (m *DynamicManager64) SetDeferredFlushThreshold(n uint32) {
	m.growMu.Lock()
	m.deferredFlushThreshold = n
	m.growMu.Unlock()
}

func (m *DynamicManager64) decompose(index uint64) (blockIndex uint32, intra uint64) {
	return uint32(index >> m.blockSizeLog2), index & m.blockSizeMask
}

func (m *DynamicManager64) blockFor(index uint64) (*slotBlock64, uint64) {
	blockIndex, intra := m.decompose(index)
	return m.dir.get(blockIndex), intra
}

func (m *DynamicManager64) loadTotalAllocated() uint64 {
	return m.totalAllocated.Load()
}

// Alloc returns a fresh, valid handle with zeroed payload, growing the
// manager's capacity as needed, or [InvalidHandle64] if maxBlocks has been
// reached.
func (m *DynamicManager64) Alloc() Handle64 {
	noFreeCount := 0
	for {
		heads := m.heads.load()

		if heads.free == emptyList64 {
			if heads.deferred == emptyList64 {
				m.growMu.Lock()
				m.growOrPromote()
				m.growMu.Unlock()

				noFreeCount++
				if noFreeCount >= dynamicAllocRetryLimit {
					logWarn(m.logger, "alloc", "dynamic manager has exhausted its configured capacity")
					return InvalidHandle64
				}
				continue
			}
			newHeads := &headPair64{free: heads.deferred, deferred: emptyList64}
			m.heads.cas(heads, newHeads)
			continue
		}

		index := linkIndex64(heads.free)
		block, intra := m.blockFor(index)
		next := block.readLink(intra)
		newHeads := &headPair64{free: next, deferred: heads.deferred}
		if !m.heads.cas(heads, newHeads) {
			continue
		}

		block.zeroPayload(intra)
		gen := block.generation(intra)
		gen.setFlag(genFlagAllocated)
		return encodeHandle64(index, gen.load())
	}
}

// growOrPromote is called with growMu held, only when the free list was
// observed empty. AllocNewBlock64 in the source tries a deferred-list
// promotion before actually growing; this ports that directly (there is
// no delayed/quarantine list at this bit width).
func (m *DynamicManager64) growOrPromote() {
	heads := m.heads.load()
	if heads.free != emptyList64 {
		return
	}

	if heads.deferred != emptyList64 && m.blocksGrownSinceDeferredFlush >= m.deferredFlushThreshold {
		newHeads := &headPair64{free: heads.deferred, deferred: emptyList64}
		m.heads.cas(heads, newHeads)
		m.blocksGrownSinceDeferredFlush = 0
		return
	}

	if m.growNewBlock() {
		m.blocksGrownSinceDeferredFlush++
	}
}

// growNewBlock reserves the next index range, allocates and publishes a
// block for it, and splices it onto the free list.
func (m *DynamicManager64) growNewBlock() bool {
	n := m.blockSize
	baseIndex := m.totalAllocated.Add(n) - n
	if baseIndex+n > uint64(MaxHandles64)+1 {
		m.totalAllocated.Add(-n)
		logWarn(m.logger, "grow", "dynamic manager: handle index space exhausted")
		return false
	}
	blockIndex := baseIndex >> m.blockSizeLog2
	if blockIndex >= m.maxBlocks {
		m.totalAllocated.Add(-n)
		logWarn(m.logger, "grow", "dynamic manager: max_blocks (%d) exceeded", m.maxBlocks)
		return false
	}

	block := newSlotBlock64(int(n), m.elementSize)
	for i := uint64(0); i < n-1; i++ {
		block.writeLink(i, linkMarker64|(baseIndex+i+1))
	}
	if baseIndex == 0 {
		block.generation(0).store(1, 0)
	}
	m.dir.publish(uint32(blockIndex), block)

	for {
		cur := m.heads.load()
		block.writeLink(n-1, cur.free)
		newHeads := &headPair64{free: linkMarker64 | baseIndex, deferred: cur.deferred}
		if m.heads.cas(cur, newHeads) {
			return true
		}
	}
}

// Release returns handle's slot to circulation. h must currently be
// valid; releasing an invalid handle is a programming error.
func (m *DynamicManager64) Release(h Handle64) {
	index := h.Index()
	assertf(index < m.loadTotalAllocated(), "release: index %d out of range", index)
	block, intra := m.blockFor(index)
	gen := block.generation(intra)
	assertf(gen.load() == h.Generation(), "release: handle %#x generation mismatch (slot has %d)", uint64(h), gen.load())

	next := gen.bump(0)
	if next == 0 {
		switch {
		case m.neverReissueOldHandles:
			gen.setFlag(genFlagLeaked)
			for i := range block.cell(intra) {
				block.cell(intra)[i] = 0xDC
			}
			return
		case index == 0:
			gen.store(1, 0)
		}
	}

	markerIndex := index | linkMarker64
	for {
		heads := m.heads.load()
		block.writeLink(intra, heads.deferred)
		newHeads := &headPair64{free: heads.free, deferred: markerIndex}
		if m.heads.cas(heads, newHeads) {
			return
		}
	}
}

// IsValid reports whether h is non-zero, within the provisioned range, and
// carries its slot's current generation. The status flags are not
// consulted, so a slot that has never been allocated also matches a handle
// carrying its initial generation.
func (m *DynamicManager64) IsValid(h Handle64) bool {
	if h == InvalidHandle64 {
		return false
	}
	index := h.Index()
	if index >= m.loadTotalAllocated() {
		return false
	}
	block, intra := m.blockFor(index)
	if block == nil {
		return false
	}
	return block.generation(intra).load() == h.Generation()
}

// IndexToHandle reconstructs the current handle for a raw slot index, or
// [InvalidHandle64] if the slot is not presently allocated.
func (m *DynamicManager64) IndexToHandle(index uint64) Handle64 {
	if index >= m.loadTotalAllocated() {
		return InvalidHandle64
	}
	block, intra := m.blockFor(index)
	if block == nil {
		return InvalidHandle64
	}
	gen := block.generation(intra)
	if gen.flags()&genFlagAllocated == 0 {
		return InvalidHandle64
	}
	return encodeHandle64(index, gen.load())
}

// HandleToPointer returns a pointer to h's payload cell, or nil if h is
// not currently valid.
func (m *DynamicManager64) HandleToPointer(h Handle64) unsafe.Pointer {
	if !m.IsValid(h) {
		return nil
	}
	block, intra := m.blockFor(h.Index())
	cell := block.cell(intra)
	return unsafe.Pointer(&cell[0])
}

// AllocatedCount returns the manager's total provisioned capacity.
func (m *DynamicManager64) AllocatedCount() uint64 {
	return m.loadTotalAllocated()
}

// CopyOut copies h's payload into dst, which must be at least elementSize
// bytes. Returns false if h is not valid.
func (m *DynamicManager64) CopyOut(h Handle64, dst []byte) bool {
	if !m.IsValid(h) {
		return false
	}
	block, intra := m.blockFor(h.Index())
	copy(dst, block.cell(intra))
	return true
}

// CopyIn copies src into h's payload, which must be at least elementSize
// bytes. Returns false if h is not valid.
func (m *DynamicManager64) CopyIn(h Handle64, src []byte) bool {
	if !m.IsValid(h) {
		return false
	}
	block, intra := m.blockFor(h.Index())
	copy(block.cell(intra), src)
	return true
}

func nextPow2u64(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(n-1)
}
