package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeHandle64RoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		index uint64
		gen   uint32
	}{
		{0, 1},
		{1, 0},
		{MaxHandles64, 0x00FFFFFF},
		{987654321, 42},
	}
	for _, tc := range cases {
		h := encodeHandle64(tc.index, tc.gen)
		assert.Equal(t, tc.index, h.Index())
		assert.Equal(t, tc.gen, h.Generation())
	}
}

func TestHandle64GenerationMasksStatusFlags(t *testing.T) {
	t.Parallel()
	// Status flags never leak into the handle's own bits, even if a caller
	// passes a genCell64 word (flags included) instead of a bare generation.
	h := encodeHandle64(5, 9|genFlagAllocated|genFlagLeaked)
	assert.Equal(t, uint32(9), h.Generation())
}

func TestLinkIndex64StripsMarker(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint64(7), linkIndex64(linkMarker64|7))
	assert.Equal(t, uint64(0), linkIndex64(emptyList64))
}
