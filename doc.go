// Package handle provides concurrent generational handle managers: slab
// allocators that vend opaque integer tokens ("handles") referring to
// fixed-size payload slots. Each handle carries an index and a generation
// counter; dereferencing a handle re-checks the generation so a token
// referring to a freed slot is reliably detected as invalid rather than
// silently aliasing a reused slot.
//
// # Variants
//
// [FixedManager32] and [FixedManager64] pre-size their entire backing
// store at construction and are lock-free for every operation. ]
// [DynamicManager32] and [DynamicManager64] grow their backing store in
// power-of-two blocks on demand; the hot alloc/release paths remain
// lock-free, with a short mutex serializing only the block-growth slow
// path.
//
// The 32-bit handle form packs a 24-bit index and an 8-bit generation into
// a uint32. The 64-bit form packs a 40-bit index and a 24-bit generation
// (plus two status flags) into a uint64.
//
// # Concurrency
//
// Allocation and release are safe to call from any number of goroutines
// concurrently. The manager guarantees slot identity only: it does not
// order payload writes against concurrent readers of the same slot.
// Callers that write a payload after [DynamicManager32.Alloc] and expect
// another goroutine to observe it must arrange their own synchronization
// (a channel send, a mutex, atomic fields within the payload, etc).
//
// # Usage
//
//	m, err := handle.NewDynamicManager32(64, 16, 64)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	h := m.Alloc()
//	if h == handle.InvalidHandle32 {
//	    log.Fatal("out of handles")
//	}
//	defer m.Release(h)
//
//	ptr := m.HandleToPointer(h)
//	// ... use ptr while holding no other reference to h's payload ...
package handle
