package handle

import "encoding/binary"

// slotBlock32 is one growth unit for the 32-bit handle managers: N payload
// cells of elementSize bytes, followed by N generation cells. A free or
// deferred slot's first 4 payload bytes are repurposed to hold the
// singly-linked chain's "next" link (spec.md §3, "Free-list marker high
// byte"). Generation cells are atomic (genCell32) rather than a raw byte
// region so concurrent reads during a release's increment have defined Go
// memory semantics without unsafe pointer arithmetic.
type slotBlock32 struct {
	elementSize int
	payload     []byte
	gens        []genCell32
}

func newSlotBlock32(n, elementSize int) *slotBlock32 {
	return &slotBlock32{
		elementSize: elementSize,
		payload:     make([]byte, n*elementSize),
		gens:        make([]genCell32, n),
	}
}

func (b *slotBlock32) cell(i uint32) []byte {
	off := int(i) * b.elementSize
	return b.payload[off : off+b.elementSize]
}

func (b *slotBlock32) readLink(i uint32) uint32 {
	return binary.LittleEndian.Uint32(b.cell(i)[:4])
}

func (b *slotBlock32) writeLink(i uint32, link uint32) {
	binary.LittleEndian.PutUint32(b.cell(i)[:4], link)
}

func (b *slotBlock32) zeroPayload(i uint32) {
	clear(b.cell(i))
}

func (b *slotBlock32) generation(i uint32) *genCell32 {
	return &b.gens[i]
}
