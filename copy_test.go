package handle

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyInCopyOutRoundTrip(t *testing.T) {
	t.Parallel()

	fixed32, err := NewFixedManager32(8, 4)
	require.NoError(t, err)
	dynamic32, err := NewDynamicManager32(8, 2, 4)
	require.NoError(t, err)
	fixed64, err := NewFixedManager64(8, 4)
	require.NoError(t, err)
	dynamic64, err := NewDynamicManager64(8, 2, 4)
	require.NoError(t, err)

	payload := []byte("deadbeef")

	h32 := fixed32.Alloc()
	require.True(t, fixed32.CopyIn(h32, payload))
	out := make([]byte, 8)
	require.True(t, fixed32.CopyOut(h32, out))
	assert.Equal(t, payload, out)

	d32 := dynamic32.Alloc()
	require.True(t, dynamic32.CopyIn(d32, payload))
	out2 := make([]byte, 8)
	require.True(t, dynamic32.CopyOut(d32, out2))
	assert.Equal(t, payload, out2)

	h64 := fixed64.Alloc()
	require.True(t, fixed64.CopyIn(h64, payload))
	out3 := make([]byte, 8)
	require.True(t, fixed64.CopyOut(h64, out3))
	assert.Equal(t, payload, out3)

	d64 := dynamic64.Alloc()
	require.True(t, dynamic64.CopyIn(d64, payload))
	out4 := make([]byte, 8)
	require.True(t, dynamic64.CopyOut(d64, out4))
	assert.Equal(t, payload, out4)

	fixed32.Release(h32)
	assert.False(t, fixed32.CopyOut(h32, out))
	assert.False(t, fixed32.CopyIn(h32, payload))
}

func TestHandleToPointerReflectsCopyIn(t *testing.T) {
	t.Parallel()
	m, err := NewFixedManager32(8, 2)
	require.NoError(t, err)

	h := m.Alloc()
	require.True(t, m.CopyIn(h, []byte("abcdefgh")))

	ptr := m.HandleToPointer(h)
	require.NotNil(t, ptr)
	got := *(*byte)(ptr)
	assert.Equal(t, byte('a'), got)
}
