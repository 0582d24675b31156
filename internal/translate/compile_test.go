package translate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imbev/rvtrjit/internal/emit"
)

func TestSourceOrdersBlocksByAddress(t *testing.T) {
	blocks := map[uint64]string{
		0x2000: "BLOCK_2000",
		0x1000: "BLOCK_1000",
		0x1800: "BLOCK_1800",
	}
	src := Source(blocks, nil)

	i1000 := strings.Index(src, "BLOCK_1000")
	i1800 := strings.Index(src, "BLOCK_1800")
	i2000 := strings.Index(src, "BLOCK_2000")
	require.True(t, i1000 >= 0 && i1800 >= 0 && i2000 >= 0)
	assert.Less(t, i1000, i1800)
	assert.Less(t, i1800, i2000)
	assert.True(t, strings.HasPrefix(src, emitPreambleHead()))
}

func TestSourceFooterDeclaresMappingSymbolsAndDedupesHandlers(t *testing.T) {
	blocks := map[uint64]string{0x1000: "BLOCK_1000"}
	mappings := []emit.Mapping{
		{Addr: 0x1000, Symbol: "f_1000"},
		{Addr: 0x1004, Symbol: "f_1000"}, // direct tail call into the same block
		{Addr: 0x2000, Symbol: "f_2000"},
	}
	src := Source(blocks, mappings)

	assert.Contains(t, src, "VISIBLE const uint32_t no_mappings = 3;")
	assert.Contains(t, src, "VISIBLE const struct Mapping mappings[] = {")
	assert.Contains(t, src, "{0x1000ULL, 0},")
	assert.Contains(t, src, "{0x1004ULL, 0},")
	assert.Contains(t, src, "{0x2000ULL, 1},")
	assert.Contains(t, src, "VISIBLE const uint32_t no_handlers = 2;")
	assert.Contains(t, src, "VISIBLE const void* unique_mappings[] = {")
	assert.Contains(t, src, "(void*)f_1000,")
	assert.Contains(t, src, "(void*)f_2000,")
}

func emitPreambleHead() string {
	return "/* Generated by rvtrjit. Do not edit. */"
}

func TestCompileArgsSortedAndDeterministic(t *testing.T) {
	opt := Options{Compressed: true, Float: true}
	args1 := compileArgs(opt, 64, "in.c", "out.so")
	args2 := compileArgs(opt, 64, "in.c", "out.so")
	assert.Equal(t, args1, args2)
	assert.Contains(t, args1, "-shared")
	assert.Contains(t, args1, "in.c")
	assert.Contains(t, args1, "-o")
}

func TestCompileSkipsInvocationWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	opt := NewOptions()
	opt.TranslateInvokeCompiler = false

	out, err := Compile(dir, 0x1234, "int x;", opt, 64)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rvtrjit-00001234.so"), out)
	// the scratch .c file is still written even when cc is skipped.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawSource bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "rvtrjit-00001234-") && strings.HasSuffix(e.Name(), ".c") {
			sawSource = true
		}
	}
	assert.True(t, sawSource)
}

func TestCompileReusesCachedOutput(t *testing.T) {
	dir := t.TempDir()
	opt := NewOptions()
	opt.TranslateInvokeCompiler = false

	outPath := filepath.Join(dir, "rvtrjit-00005678.so")
	require.NoError(t, os.WriteFile(outPath, []byte("prebuilt"), 0o644))

	out, err := Compile(dir, 0x5678, "int x;", opt, 64)
	require.NoError(t, err)
	assert.Equal(t, outPath, out)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "prebuilt", string(data), "cached output must not be overwritten")
}
