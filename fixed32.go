package handle

import (
	"sync/atomic"
	"unsafe"
)

// FixedManager32 is a pre-sized, fully lock-free slab allocator vending
// 32-bit handles (24-bit index, 8-bit generation). Every operation is a
// single CAS retry loop on the packed free-head; there is no growth path
// and therefore no mutex anywhere in this type. Grounded on
// al2o3_handle's src/fixed.c.
type FixedManager32 struct {
	_           [sizeOfCacheLine]byte
	heads       atomic.Uint64 // packed free (low 32) / deferred (high 32) head
	_           [sizeOfCacheLine - 8]byte
	elementSize int
	totalCount  uint32
	block       *slotBlock32
	logger      Logger
}

// NewFixedManager32 creates a manager with totalCount pre-allocated slots
// of elementSize bytes each. elementSize must be at least 4 (the 32-bit
// chain-link width); totalCount must not exceed [MaxHandles32].
func NewFixedManager32(elementSize int, totalCount uint32, opts ...FixedOption) (*FixedManager32, error) {
	if elementSize < 4 {
		return nil, newConfigError("elementSize", "must be >= 4 (32-bit handle link width), got %d", elementSize)
	}
	if totalCount == 0 {
		return nil, newConfigError("totalCount", "must be > 0")
	}
	if totalCount > MaxHandles32 {
		return nil, newConfigError("totalCount", "must be <= %d (24-bit index space), got %d", MaxHandles32, totalCount)
	}
	cfg := resolveFixedOptions(opts)

	m := &FixedManager32{
		elementSize: elementSize,
		totalCount:  totalCount,
		block:       newSlotBlock32(int(totalCount), elementSize),
		logger:      cfg.logger,
	}

	for i := uint32(0); i < totalCount; i++ {
		if i == totalCount-1 {
			m.block.writeLink(i, emptyList32)
		} else {
			m.block.writeLink(i, linkMarker32|(i+1))
		}
	}
	// index zero is born generation 1 so handle 0 is always invalid.
	m.block.generation(0).store(1)

	m.heads.Store(packHeads32(linkMarker32|0, emptyList32))
	return m, nil
}

// Close releases the manager's backing storage. The manager must not be
// used afterward.
func (m *FixedManager32) Close() error {
	if m == nil {
		return nil
	}
	m.block = nil
	return nil
}

// Alloc returns a fresh, valid handle with zeroed payload, or
// [InvalidHandle32] if the manager's capacity is exhausted.
func (m *FixedManager32) Alloc() Handle32 {
	noFreeCount := 0
	for {
		heads := m.heads.Load()
		free := freePart32(heads)
		deferred := deferredPart32(heads)

		if free == emptyList32 {
			if deferred == emptyList32 {
				noFreeCount++
				if noFreeCount >= fixedAllocRetryLimit {
					logWarn(m.logger, "alloc", "fixed manager has allocated all handles")
					return InvalidHandle32
				}
				continue
			}
			// Promote: move the deferred chain into the free half, zero
			// the deferred half. A lost CAS here is benign (another
			// thread made equivalent progress) — always restart.
			newHeads := packHeads32(deferred, emptyList32)
			m.heads.CompareAndSwap(heads, newHeads)
			continue
		}

		index := linkIndex32(free)
		next := m.block.readLink(index)
		newHeads := packHeads32(next, deferred)
		if !m.heads.CompareAndSwap(heads, newHeads) {
			continue
		}

		m.block.zeroPayload(index)
		gen := m.block.generation(index).load()
		return encodeHandle32(index, gen)
	}
}

// Release returns handle's slot to circulation. h must currently be valid;
// releasing an invalid handle is a programming error (spec.md §4.4, §7).
func (m *FixedManager32) Release(h Handle32) {
	index := h.Index()
	assertf(index < m.totalCount, "release: index %d out of range [0,%d)", index, m.totalCount)
	gen := m.block.generation(index)
	assertf(gen.load() == h.Generation(), "release: handle %#x generation mismatch (slot has %d)", uint32(h), gen.load())

	if next := gen.bump(); next == 0 && index == 0 {
		gen.store(1) // anti-null guard: index 0 never rests at generation 0
	}

	markerIndex := index | linkMarker32
	for {
		heads := m.heads.Load()
		free := freePart32(heads)
		deferred := deferredPart32(heads)
		m.block.writeLink(index, deferred)
		newHeads := packHeads32(free, markerIndex)
		if m.heads.CompareAndSwap(heads, newHeads) {
			return
		}
	}
}

// IsValid reports whether h is non-zero, within capacity, and carries its
// slot's current generation. A slot that has never been allocated also
// matches a handle carrying its initial generation.
func (m *FixedManager32) IsValid(h Handle32) bool {
	if h == InvalidHandle32 {
		return false
	}
	index := h.Index()
	if index >= m.totalCount {
		return false
	}
	return m.block.generation(index).load() == h.Generation()
}

// HandleToPointer returns a pointer to h's payload cell, or nil if h is
// not currently valid. The pointer is stable for the manager's lifetime.
func (m *FixedManager32) HandleToPointer(h Handle32) unsafe.Pointer {
	if !m.IsValid(h) {
		return nil
	}
	cell := m.block.cell(h.Index())
	return unsafe.Pointer(&cell[0])
}

// AllocatedCount returns the manager's total slot capacity (fixed
// managers provision their entire capacity at construction, so this is
// constant).
func (m *FixedManager32) AllocatedCount() uint32 {
	return m.totalCount
}

// CopyOut copies h's payload into dst, which must be at least elementSize
// bytes. Returns false if h is not valid.
func (m *FixedManager32) CopyOut(h Handle32, dst []byte) bool {
	if !m.IsValid(h) {
		return false
	}
	copy(dst, m.block.cell(h.Index()))
	return true
}

// CopyIn copies src into h's payload, which must be at least elementSize
// bytes. Returns false if h is not valid.
func (m *FixedManager32) CopyIn(h Handle32, src []byte) bool {
	if !m.IsValid(h) {
		return false
	}
	copy(m.block.cell(h.Index()), src)
	return true
}
