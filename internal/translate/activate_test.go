package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imbev/rvtrjit/internal/abi"
	"github.com/imbev/rvtrjit/internal/decoder"
	"github.com/imbev/rvtrjit/internal/emit"
	"github.com/imbev/rvtrjit/segment"
)

func fakeBintrFunc() abi.BintrFunc {
	return func(cpu uintptr, counter, maxCounter, pc uint64) abi.ReturnValues {
		return abi.ReturnValues{Counter: counter, MaxCounter: maxCounter}
	}
}

func TestActivateEmbeddedInstallsFuncsAndMarksSegment(t *testing.T) {
	seg, err := segment.New(0x1000, make([]byte, 16), false, 64)
	require.NoError(t, err)

	blockMappings := []emit.Mapping{{Addr: 0x1000, Symbol: "f_1000"}}
	e := embeddedEntry{
		hash:     0x42,
		mappings: []abi.Mapping{{Addr: 0x1000, MappingIndex: 0}},
		handlers: []abi.BintrFunc{fakeBintrFunc()},
	}

	act, err := activateEmbedded(seg, e, blockMappings)
	require.NoError(t, err)
	assert.Len(t, act.Funcs, 1)
	assert.NotNil(t, act.Funcs[0x1000])

	assert.True(t, seg.IsBinaryTranslated())
	assert.Nil(t, seg.DylibHandle())
	assert.Equal(t, decoder.BytecodeTranslated, seg.RawTable().EntryAt(0x1000).Bytecode)
}

func TestActivateEmbeddedRejectsZeroHash(t *testing.T) {
	seg, err := segment.New(0x1000, make([]byte, 16), false, 64)
	require.NoError(t, err)
	_, err = activateEmbedded(seg, embeddedEntry{hash: 0}, nil)
	assert.Error(t, err)
}

func TestInstallFuncsRejectsUnknownMapping(t *testing.T) {
	seg, err := segment.New(0x1000, make([]byte, 16), false, 64)
	require.NoError(t, err)

	blockMappings := []emit.Mapping{{Addr: 0x1000, Symbol: "f_1000"}}
	mappings := []abi.Mapping{{Addr: 0x1004, MappingIndex: 0}} // not in blockMappings
	_, err = installFuncs(seg, mappings, []abi.BintrFunc{fakeBintrFunc()}, blockMappings)
	assert.Error(t, err)
}

func TestInstallFuncsRejectsOutOfRangeMappingIndex(t *testing.T) {
	seg, err := segment.New(0x1000, make([]byte, 16), false, 64)
	require.NoError(t, err)

	mappings := []abi.Mapping{{Addr: 0x1000, MappingIndex: 5}}
	_, err = installFuncs(seg, mappings, []abi.BintrFunc{fakeBintrFunc()}, nil)
	assert.Error(t, err)
}
