package handle

import "sync/atomic"

// The 64-bit handle form needs a 128-bit packed free-head (two 64-bit list
// heads). Go has no native 128-bit CAS (spec.md places multi-width CAS,
// including 128-bit, out of scope as an external primitive). We stand in
// for it the way atomic.Pointer-based lock-free structures in this
// ecosystem already do (cf. eventloop/internal/alternatetwo/ingress.go's
// LockFreeIngress, which swaps an atomic.Pointer[node] instead of CASing
// raw memory): the packed word is an immutable *headPair64 behind an
// atomic.Pointer, and "CAS the packed word" becomes
// atomic.Pointer.CompareAndSwap(oldPair, newPair) — pointer identity
// stands in for 128-bit value equality.
type headPair64 struct {
	free, deferred uint64
}

type packedHead64 struct {
	p atomic.Pointer[headPair64]
}

func (h *packedHead64) init(free, deferred uint64) {
	h.p.Store(&headPair64{free: free, deferred: deferred})
}

func (h *packedHead64) load() *headPair64 {
	return h.p.Load()
}

func (h *packedHead64) cas(old, new *headPair64) bool {
	return h.p.CompareAndSwap(old, new)
}

// linkMarker64 is OR'd into a 64-bit chain link so a zeroed payload can
// never be misread as a valid (empty-looking) chain terminator.
const linkMarker64 uint64 = 0xFFFFFF0000000000

const emptyList64 uint64 = 0

func linkIndex64(link uint64) uint64 {
	return link & handle64IndexMask
}
