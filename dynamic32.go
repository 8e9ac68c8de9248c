package handle

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DynamicManager32 is a growable slab allocator vending 32-bit handles. It
// keeps the same lock-free alloc/release fast path as [FixedManager32] but
// adds a mutex-guarded growth slow path: new blocks are appended to a
// [directory] by reserving an index range with an atomic fetch-add, then
// publishing the block, then CAS-splicing it onto the free list — the
// reserve/publish/splice sequence from al2o3_handle's src/hande64.c
// AllocNewBlock64, ported to 32-bit handles and a directory-of-blocks
// layout.
//
// Growth additionally ports src/dynamic.c's defer/delay draining
// heuristic: a grower first tries to avoid growing at all by promoting the
// deferred list, and — once enough deferred-flushes have passed without a
// grow — by draining the "delayed" quarantine list that wrapped slots are
// parked on when never_reissue_old_handles is disabled. Fixed managers and
// the 64-bit dynamic manager have no delayed list; it is unique to the
// original 32-bit dynamic allocator's generation-wrap handling and this is
// where it has been carried forward as a supplemental feature.
type DynamicManager32 struct {
	heads       atomic.Uint64 // packed free (low 32) / deferred (high 32) head, global indices
	delayedHead atomic.Uint32 // singly-linked quarantine list for wrapped, non-leaked slots

	blocksGrownSinceDeferredFlush    atomic.Uint32
	deferredFlushesSinceDelayedFlush atomic.Uint32

	deferredFlushThreshold atomic.Uint32
	delayedFlushThreshold  atomic.Uint32

	totalAllocated atomic.Uint32

	growMu sync.Mutex

	elementSize            int
	blockSize              uint32
	blockSizeMask          uint32
	blockSizeLog2          uint32
	maxBlocks              uint32
	neverReissueOldHandles bool
	dir                    *directory[slotBlock32]
	logger                 Logger
}

// NewDynamicManager32 creates a manager that starts with one block of
// blockSize slots (rounded up to a power of two) and grows, up to
// maxBlocks blocks total, as capacity is exhausted.
func NewDynamicManager32(elementSize int, blockSize, maxBlocks uint32, opts ...DynamicOption) (*DynamicManager32, error) {
	if elementSize < 4 {
		return nil, newConfigError("elementSize", "must be >= 4 (32-bit handle link width), got %d", elementSize)
	}
	if blockSize == 0 {
		return nil, newConfigError("blockSize", "must be > 0")
	}
	if maxBlocks == 0 {
		return nil, newConfigError("maxBlocks", "must be > 0")
	}
	roundedBlockSize := nextPow2(blockSize)
	if uint64(roundedBlockSize)*uint64(maxBlocks) > uint64(MaxHandles32)+1 {
		return nil, newConfigError("blockSize/maxBlocks", "block_size (%d) x max_blocks (%d) exceeds the 24-bit index space", roundedBlockSize, maxBlocks)
	}
	cfg := resolveDynamicOptions(opts)

	m := &DynamicManager32{
		elementSize:            elementSize,
		blockSize:              roundedBlockSize,
		blockSizeMask:          roundedBlockSize - 1,
		blockSizeLog2:          uint32(bits.TrailingZeros32(roundedBlockSize)),
		maxBlocks:              maxBlocks,
		neverReissueOldHandles: cfg.neverReissueOldHandles,
		dir:                    newDirectory[slotBlock32](maxBlocks),
		logger:                 cfg.logger,
	}
	m.deferredFlushThreshold.Store(cfg.deferredFlushThreshold)
	m.delayedFlushThreshold.Store(cfg.delayedFlushThreshold)

	// The manager always carries one block inline from construction
	// (spec.md §6 create_dynamic: "first block inline with header").
	if !m.growNewBlock() {
		return nil, newConfigError("blockSize/maxBlocks", "failed to allocate the initial block")
	}
	return m, nil
}

// Close releases the manager's backing storage. The manager must not be
// used afterward.
func (m *DynamicManager32) Close() error {
	if m == nil {
		return nil
	}
	m.dir = nil
	return nil
}

// Lock acquires the manager's growth mutex, serializing the caller against
// concurrent block growth (spec.md §4.5). Most callers never need this;
// it exists for callers that must observe a stable AllocatedCount across a
// sequence of operations.
func (m *DynamicManager32) Lock() { m.growMu.Lock() }

// Unlock releases the lock acquired by Lock.
func (m *DynamicManager32) Unlock() { m.growMu.Unlock() }

// SetDeferredFlushThreshold overrides the number of block growths that
// must occur before a grower will opportunistically promote the deferred
// list instead of growing again.
func (m *DynamicManager32) SetDeferredFlushThreshold(n uint32) { m.deferredFlushThreshold.Store(n) }

// SetDelayedFlushThreshold overrides the number of deferred-list flushes
// and block growths (counted while the delayed list is non-empty) that
// must occur before a grower will try draining the delayed quarantine list
// back into circulation.
func (m *DynamicManager32) SetDelayedFlushThreshold(n uint32) { m.delayedFlushThreshold.Store(n) }

func (m *DynamicManager32) decompose(index uint32) (blockIndex, intra uint32) {
	return index >> m.blockSizeLog2, index & m.blockSizeMask
}

func (m *DynamicManager32) blockFor(index uint32) (*slotBlock32, uint32) {
	blockIndex, intra := m.decompose(index)
	return m.dir.get(blockIndex), intra
}

// Alloc returns a fresh, valid handle with zeroed payload, growing the
// manager's capacity as needed, or [InvalidHandle32] if maxBlocks has been
// reached.
func (m *DynamicManager32) Alloc() Handle32 {
	noFreeCount := 0
	for {
		heads := m.heads.Load()
		free := freePart32(heads)
		deferred := deferredPart32(heads)

		if free == emptyList32 {
			if deferred == emptyList32 {
				m.growMu.Lock()
				m.growOrDrain()
				m.growMu.Unlock()

				noFreeCount++
				if noFreeCount >= dynamicAllocRetryLimit {
					logWarn(m.logger, "alloc", "dynamic manager has exhausted its configured capacity")
					return InvalidHandle32
				}
				continue
			}
			newHeads := packHeads32(deferred, emptyList32)
			m.heads.CompareAndSwap(heads, newHeads)
			continue
		}

		index := linkIndex32(free)
		block, intra := m.blockFor(index)
		next := block.readLink(intra)
		newHeads := packHeads32(next, deferred)
		if !m.heads.CompareAndSwap(heads, newHeads) {
			continue
		}

		block.zeroPayload(intra)
		gen := block.generation(intra).load()
		return encodeHandle32(index, gen)
	}
}

// growOrDrain is called with growMu held, only when the free list was
// observed empty. It first tries the cheaper alternatives to growing — a
// deferred-list promotion, or a delayed-list drain — and only allocates a
// new block if neither applies.
func (m *DynamicManager32) growOrDrain() {
	heads := m.heads.Load()
	if freePart32(heads) != emptyList32 {
		return // another grower already made progress
	}
	deferred := deferredPart32(heads)

	if deferred != emptyList32 && m.blocksGrownSinceDeferredFlush.Load() >= m.deferredFlushThreshold.Load() {
		newHeads := packHeads32(deferred, emptyList32)
		m.heads.CompareAndSwap(heads, newHeads)
		m.blocksGrownSinceDeferredFlush.Store(0)
		if m.delayedHead.Load() != emptyList32 {
			m.deferredFlushesSinceDelayedFlush.Add(1)
		}
		return
	}

	if m.delayedHead.Load() != emptyList32 && m.deferredFlushesSinceDelayedFlush.Load() >= m.delayedFlushThreshold.Load() {
		var old uint32
		for {
			old = m.delayedHead.Load()
			if old == emptyList32 {
				return
			}
			if m.delayedHead.CompareAndSwap(old, emptyList32) {
				break
			}
		}
		for {
			cur := m.heads.Load()
			newHeads := packHeads32(old|linkMarker32, deferredPart32(cur))
			if m.heads.CompareAndSwap(cur, newHeads) {
				break
			}
		}
		m.deferredFlushesSinceDelayedFlush.Store(0)
		return
	}

	if m.growNewBlock() {
		m.blocksGrownSinceDeferredFlush.Add(1)
		if m.delayedHead.Load() != emptyList32 {
			m.deferredFlushesSinceDelayedFlush.Add(1)
		}
	}
}

// growNewBlock reserves the next index range, allocates and publishes a
// block for it, and splices it onto the free list. Called either from the
// constructor (no concurrent readers yet) or with growMu held.
func (m *DynamicManager32) growNewBlock() bool {
	n := m.blockSize
	baseIndex := m.totalAllocated.Add(n) - n
	if uint64(baseIndex)+uint64(n) > uint64(MaxHandles32)+1 {
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

	block := newSlotBlock32(int(n), m.elementSize)
	for i := uint32(0); i < n-1; i++ {
		block.writeLink(i, linkMarker32|(baseIndex+i+1))
	}
	if baseIndex == 0 {
		block.generation(0).store(1) // anti-null guard
	}
	m.dir.publish(blockIndex, block)

	for {
		cur := m.heads.Load()
		free := freePart32(cur)
		deferred := deferredPart32(cur)
		block.writeLink(n-1, free)
		newHeads := packHeads32(linkMarker32|baseIndex, deferred)
		if m.heads.CompareAndSwap(cur, newHeads) {
			return true
		}
	}
}

// Release returns handle's slot to circulation. h must currently be
// valid; releasing an invalid handle is a programming error.
func (m *DynamicManager32) Release(h Handle32) {
	index := h.Index()
	assertf(uint64(index) < uint64(m.totalAllocated.Load()), "release: index %d out of range", index)
	block, intra := m.blockFor(index)
	gen := block.generation(intra)
	assertf(gen.load() == h.Generation(), "release: handle %#x generation mismatch (slot has %d)", uint32(h), gen.load())

	if next := gen.bump(); next == 0 {
		switch {
		case m.neverReissueOldHandles:
			block.zeroPayload(intra)
			for i := range block.cell(intra) {
				block.cell(intra)[i] = 0xDC
			}
			return
		case index == 0:
			gen.store(1) // anti-null guard; still falls through to the normal push below
		default:
			for {
				old := m.delayedHead.Load()
				block.writeLink(intra, old&handle32IndexMask)
				if m.delayedHead.CompareAndSwap(old, index) {
					return
				}
			}
		}
	}

	markerIndex := index | linkMarker32
	for {
		heads := m.heads.Load()
		free := freePart32(heads)
		deferred := deferredPart32(heads)
		block.writeLink(intra, deferred)
		newHeads := packHeads32(free, markerIndex)
		if m.heads.CompareAndSwap(heads, newHeads) {
			return
		}
	}
}

// IsValid reports whether h is non-zero, within the provisioned range, and
// carries its slot's current generation. A slot that has never been
// allocated also matches a handle carrying its initial generation.
func (m *DynamicManager32) IsValid(h Handle32) bool {
	if h == InvalidHandle32 {
		return false
	}
	index := h.Index()
	if uint64(index) >= uint64(m.totalAllocated.Load()) {
		return false
	}
	block, intra := m.blockFor(index)
	if block == nil {
		return false
	}
	return block.generation(intra).load() == h.Generation()
}

// HandleToPointer returns a pointer to h's payload cell, or nil if h is
// not currently valid.
func (m *DynamicManager32) HandleToPointer(h Handle32) unsafe.Pointer {
	if !m.IsValid(h) {
		return nil
	}
	block, intra := m.blockFor(h.Index())
	cell := block.cell(intra)
	return unsafe.Pointer(&cell[0])
}

// AllocatedCount returns the manager's total provisioned capacity (the
// sum of all grown blocks' sizes, not the number of outstanding Alloc
// calls).
func (m *DynamicManager32) AllocatedCount() uint32 {
	return m.totalAllocated.Load()
}

// CopyOut copies h's payload into dst, which must be at least elementSize
// bytes. Returns false if h is not valid.
func (m *DynamicManager32) CopyOut(h Handle32, dst []byte) bool {
	if !m.IsValid(h) {
		return false
	}
	block, intra := m.blockFor(h.Index())
	copy(dst, block.cell(intra))
	return true
}

// CopyIn copies src into h's payload, which must be at least elementSize
// bytes. Returns false if h is not valid.
func (m *DynamicManager32) CopyIn(h Handle32, src []byte) bool {
	if !m.IsValid(h) {
		return false
	}
	block, intra := m.blockFor(h.Index())
	copy(block.cell(intra), src)
	return true
}

func nextPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return uint32(1) << bits.Len32(n-1)
}
