package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinesReflectsOptions(t *testing.T) {
	opt := Options{Compressed: true, Float: true, TranslateTrace: true}
	defines := Defines(opt, 64)
	assert.Equal(t, "8", defines["RISCV_TRANSLATION_DYLIB"])
	assert.Equal(t, "1", defines["RISCV_EXT_C"])
	assert.Equal(t, "1", defines["RISCV_EXT_F"])
	assert.Equal(t, "1", defines["RISCV_TRACING"])
	_, hasDouble := defines["RISCV_EXT_D"]
	assert.False(t, hasDouble)
}

func TestHashSegmentDeterministic(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	defines := Defines(Options{Compressed: true}, 64)

	h1, err := HashSegment(data, defines)
	require.NoError(t, err)
	h2, err := HashSegment(data, defines)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotZero(t, h1)
}

func TestHashSegmentDiffersWithDefines(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	h1, err := HashSegment(data, Defines(Options{}, 64))
	require.NoError(t, err)
	h2, err := HashSegment(data, Defines(Options{Compressed: true}, 64))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "toggling a define must force a different hash")
}

func TestHashSegmentRejectsEmptyData(t *testing.T) {
	_, err := HashSegment(nil, map[string]string{})
	assert.Error(t, err)
}

func TestFilenameFormat(t *testing.T) {
	assert.Equal(t, "rvtrjit-0000ABCD.so", Filename("rvtrjit-", 0xABCD, ".so"))
}
