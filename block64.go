package handle

import "encoding/binary"

// slotBlock64 is one growth unit for the 64-bit handle managers. Same
// layout idea as slotBlock32 but the chain "next" link occupies the slot's
// first 8 payload bytes and generation cells are genCell64 (24-bit
// generation plus status flags).
type slotBlock64 struct {
	elementSize int
	payload     []byte
	gens        []genCell64
}

func newSlotBlock64(n, elementSize int) *slotBlock64 {
	return &slotBlock64{
		elementSize: elementSize,
		payload:     make([]byte, n*elementSize),
		gens:        make([]genCell64, n),
	}
}

func (b *slotBlock64) cell(i uint64) []byte {
	off := int(i) * b.elementSize
	return b.payload[off : off+b.elementSize]
}

func (b *slotBlock64) readLink(i uint64) uint64 {
	return binary.LittleEndian.Uint64(b.cell(i)[:8])
}

func (b *slotBlock64) writeLink(i uint64, link uint64) {
	binary.LittleEndian.PutUint64(b.cell(i)[:8], link)
}

func (b *slotBlock64) zeroPayload(i uint64) {
	clear(b.cell(i))
}

func (b *slotBlock64) generation(i uint64) *genCell64 {
	return &b.gens[i]
}

// clone returns a deep copy of b. Payload bytes (which double as the
// free/deferred chain links for slots currently on one of those lists)
// and generation cells are copied independently of the original, so
// mutating the clone never affects b.
func (b *slotBlock64) clone() *slotBlock64 {
	nb := &slotBlock64{
		elementSize: b.elementSize,
		payload:     append([]byte(nil), b.payload...),
		gens:        make([]genCell64, len(b.gens)),
	}
	for i := range b.gens {
		nb.gens[i].v.Store(b.gens[i].v.Load())
	}
	return nb
}
