package handle

import "sync/atomic"

// genCell32 is one slot's generation counter for the 32-bit handle form.
// Only the low 8 bits are meaningful; the value wraps modulo 256.
type genCell32 struct {
	v atomic.Uint32
}

func (c *genCell32) load() uint8 {
	return uint8(c.v.Load())
}

func (c *genCell32) store(v uint8) {
	c.v.Store(uint32(v))
}

// bump increments the generation by 1, wrapping modulo 256, and returns
// the new value. The caller must already hold exclusive ownership of the
// slot (i.e. be the thread that popped it from the free/deferred list, or
// the releaser that currently owns it) — no CAS is needed here, matching
// spec.md §5's "generation cells are written only by the thread that
// currently owns the slot".
func (c *genCell32) bump() uint8 {
	next := uint8(c.v.Load() + 1)
	c.v.Store(uint32(next))
	return next
}

// genCell64 is one slot's generation counter for the 64-bit handle form.
// The low 24 bits are the generation; bits 24/25 hold the ALLOCATED and
// LEAKED status flags described in spec.md §3/§9.
type genCell64 struct {
	v atomic.Uint32
}

func (c *genCell64) load() uint32 {
	return c.v.Load() & genValueMask
}

func (c *genCell64) flags() uint32 {
	return c.v.Load() &^ genValueMask
}

func (c *genCell64) store(gen, flags uint32) {
	c.v.Store((gen & genValueMask) | (flags &^ genValueMask))
}

// bump increments the generation by 1 modulo 2^24, replaces the status
// flag bits with newFlags (0 clears them all), and returns the new
// generation.
func (c *genCell64) bump(newFlags uint32) uint32 {
	cur := c.v.Load()
	gen := (cur & genValueMask) + 1
	gen &= genValueMask
	c.v.Store(gen | (newFlags &^ genValueMask))
	return gen
}

func (c *genCell64) setFlag(flag uint32) {
	for {
		cur := c.v.Load()
		next := cur | flag
		if c.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (c *genCell64) clearFlag(flag uint32) {
	for {
		cur := c.v.Load()
		next := cur &^ flag
		if c.v.CompareAndSwap(cur, next) {
			return
		}
	}
}
