package simalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbitools/memtrace/internal/interfaces"
)

type recordingHooks struct {
	allocs []uint64
	frees  []uint64
}

func (h *recordingHooks) OnAlloc(start, size uint64, ctx interfaces.ContextHandle) {
	h.allocs = append(h.allocs, start)
}

func (h *recordingHooks) OnFree(start, size uint64, ctx interfaces.ContextHandle) {
	h.frees = append(h.frees, start)
}

func TestAllocBumpsWatermarkWhenNoFreeSpanFits(t *testing.T) {
	hooks := &recordingHooks{}
	a := NewArena(0x1000, 0x10000, hooks)

	first, err := a.Alloc(0x100, "a")
	require.NoError(t, err)
	second, err := a.Alloc(0x100, "b")
	require.NoError(t, err)

	assert.Equal(t, uint64(0x1000), first)
	assert.Equal(t, uint64(0x1100), second)
	assert.Equal(t, 2, a.LiveCount())
	assert.Equal(t, []uint64{first, second}, hooks.allocs)
}

func TestFreeReturnsSizeAndReportsToHooks(t *testing.T) {
	hooks := &recordingHooks{}
	a := NewArena(0x1000, 0x10000, hooks)
	start, err := a.Alloc(0x200, "a")
	require.NoError(t, err)

	size, ok := a.Free(start, "a")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x200), size)
	assert.Equal(t, []uint64{start}, hooks.frees)
	assert.Equal(t, 0, a.LiveCount())
}

func TestFreeUnknownAddressFails(t *testing.T) {
	a := NewArena(0x1000, 0x10000, nil)
	_, ok := a.Free(0xdead, nil)
	assert.False(t, ok)
}

func TestFreedSpanIsReusedFirstFit(t *testing.T) {
	a := NewArena(0x1000, 0x10000, nil)
	first, err := a.Alloc(0x100, nil)
	require.NoError(t, err)
	_, err = a.Alloc(0x100, nil)
	require.NoError(t, err)

	_, ok := a.Free(first, nil)
	require.True(t, ok)

	reused, err := a.Alloc(0x80, nil)
	require.NoError(t, err)
	assert.Equal(t, first, reused, "a smaller allocation should reuse the freed span's start")
}

func TestAllocFailsWhenArenaExhausted(t *testing.T) {
	a := NewArena(0x1000, 0x100, nil)
	_, err := a.Alloc(0x200, nil)
	assert.Error(t, err)
}

func TestZeroSizeAllocRejected(t *testing.T) {
	a := NewArena(0x1000, 0x100, nil)
	_, err := a.Alloc(0, nil)
	assert.Error(t, err)
}
