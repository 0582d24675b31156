package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imbev/rvtrjit/internal/abi"
)

func TestNewPadsToPageBoundaries(t *testing.T) {
	data := make([]byte, 10)
	seg, err := New(0x1004, data, false, 64)
	require.NoError(t, err)

	assert.Equal(t, uint64(0x1000), seg.PagedataBase())
	assert.Equal(t, uint64(0x1004), seg.ExecBegin())
	assert.Equal(t, uint64(0x100E), seg.ExecEnd())
	assert.True(t, uint64(len(seg.ExecData())) >= PageSize)
}

func TestNewRejectsEmptyData(t *testing.T) {
	_, err := New(0x1000, nil, false, 64)
	assert.Error(t, err)
}

func TestIsWithin(t *testing.T) {
	seg, err := New(0x2000, make([]byte, 16), false, 64)
	require.NoError(t, err)
	assert.True(t, seg.IsWithin(0x2000))
	assert.True(t, seg.IsWithin(0x200F))
	assert.False(t, seg.IsWithin(0x2010))
	assert.False(t, seg.IsWithin(0x1FFF))
}

func TestSetBinaryTranslatedAndMarkEmbedded(t *testing.T) {
	seg, err := New(0x3000, make([]byte, 8), false, 64)
	require.NoError(t, err)
	assert.False(t, seg.IsBinaryTranslated())

	seg.SetBinaryTranslated("handle", true)
	assert.True(t, seg.IsBinaryTranslated())
	assert.Equal(t, "handle", seg.DylibHandle())
	assert.True(t, seg.IsLibTCC())

	seg.SetBinaryTranslated(nil, false)
	assert.False(t, seg.IsBinaryTranslated())

	seg.MarkEmbeddedTranslated()
	assert.True(t, seg.IsBinaryTranslated())
	assert.Nil(t, seg.DylibHandle())
	assert.False(t, seg.IsLibTCC())
}

func TestTranslatedFuncsSnapshotDoesNotAliasLiveMap(t *testing.T) {
	seg, err := New(0x4000, make([]byte, 8), false, 64)
	require.NoError(t, err)

	fn := abi.BintrFunc(func(cpu uintptr, counter, maxCounter, pc uint64) abi.ReturnValues {
		return abi.ReturnValues{Counter: counter, MaxCounter: maxCounter}
	})
	seg.SetTranslatedFuncs(map[uint64]abi.BintrFunc{0x4000: fn})

	got, ok := seg.TranslatedFuncAt(0x4000)
	require.True(t, ok)
	assert.NotNil(t, got)

	snap := seg.AllTranslatedFuncs()
	snap[0x4004] = fn
	_, ok = seg.TranslatedFuncAt(0x4004)
	assert.False(t, ok, "mutating the snapshot must not affect the live map")
}

func TestPublishPatchedTableOverridesTable(t *testing.T) {
	seg, err := New(0x5000, make([]byte, 8), false, 64)
	require.NoError(t, err)

	original := seg.Table()
	patched := seg.RawTable().Clone()
	patched.EntryAt(0x5000).Bytecode = 42

	seg.PublishPatchedTable(patched)
	assert.Same(t, patched, seg.Table())
	assert.NotSame(t, original, seg.Table())
}

func TestRefCounting(t *testing.T) {
	seg, err := New(0x6000, make([]byte, 8), false, 64)
	require.NoError(t, err)
	assert.Equal(t, int32(1), seg.RefCount())
	seg.AddRef()
	assert.Equal(t, int32(2), seg.RefCount())
	assert.Equal(t, int32(1), seg.Release())
	assert.Equal(t, int32(1), seg.RefCount())
}
