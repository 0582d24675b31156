package blockscan

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imbev/rvtrjit/internal/rv"
)

func le32(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// jal encodes JAL rd, offset (offset must be even, within ±1MiB).
func jal(rd uint32, offset int32) uint32 {
	u := uint32(offset)
	imm20 := (u >> 20) & 0x1
	imm10_1 := (u >> 1) & 0x3FF
	imm11 := (u >> 11) & 0x1
	imm19_12 := (u >> 12) & 0xFF
	immField := (imm20 << 31) | (imm19_12 << 12) | (imm11 << 20) | (imm10_1 << 21)
	return immField | (rd << 7) | rv.OpJal
}

func TestDiscoverFindsForwardJumpTarget(t *testing.T) {
	// Two instructions then a JAL back to the segment start, repeated
	// until ItsTimeToSplit is reached isn't practical in a unit test, so
	// this only exercises jump-target bookkeeping on a short range: a
	// JAL forward over one instruction.
	data := le32(
		jal(0, 8), // JAL x0, +8 -> targets basePC+8
		uint32(rv.OpOpImm),
		uint32(rv.OpOpImm),
	)

	blocks := Discover(Options{
		Data:          data,
		BasePC:        0x1000,
		EndPC:         0x1000 + uint64(len(data)),
		SegmentBasePC: 0x1000,
		SegmentEndPC:  0x1000 + uint64(len(data)),
		EntryPoint:    0x1000,
	})

	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, uint64(0x1000), b.BasePC)
	assert.Len(t, b.Instructions, 3)

	_, isGlobal := b.GlobalJumpLocations[0x1008]
	assert.True(t, isGlobal, "JAL target must be recorded globally")
	_, isEntry := b.GlobalJumpLocations[0x1000]
	assert.True(t, isEntry, "entry point must be seeded into the global jump set")
}

func TestDiscoverDropsBlockExceedingInstrMax(t *testing.T) {
	// A single block of 3 instructions (no stopping instruction fires
	// before ItsTimeToSplit, so the whole range is one block) is dropped
	// entirely once its length would exceed TranslateInstrMax.
	data := le32(rv.OpJalr, rv.OpJalr, rv.OpJalr)

	blocks := Discover(Options{
		Data:              data,
		BasePC:            0x2000,
		EndPC:             0x2000 + uint64(len(data)),
		SegmentBasePC:     0x2000,
		SegmentEndPC:      0x2000 + uint64(len(data)),
		TranslateInstrMax: 2,
	})
	assert.Empty(t, blocks)

	blocks = Discover(Options{
		Data:              data,
		BasePC:            0x2000,
		EndPC:             0x2000 + uint64(len(data)),
		SegmentBasePC:     0x2000,
		SegmentEndPC:      0x2000 + uint64(len(data)),
		TranslateInstrMax: 4,
	})
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Instructions, 3)
}

func auipc(rd uint32, upperImm int32) uint32 {
	return (uint32(upperImm) & 0xFFFFF000) | (rd << 7) | rv.OpAuipc
}

func addi(rd, rs1 uint32, imm int32) uint32 {
	return (uint32(imm&0xFFF) << 20) | (rs1 << 15) | (rd << 7) | rv.OpOpImm
}

func TestRecoverGPFoldsAuipcAddi(t *testing.T) {
	data := le32(
		auipc(3, 0x3000),  // AUIPC gp, 0x3000
		addi(3, 3, 0x123), // ADDI gp, gp, 0x123
	)
	got := RecoverGP(data, 0x1000, 0x1000+uint64(len(data)), false)
	assert.Equal(t, uint64(0x1000+0x3000+0x123), got)
}

func TestRecoverGPNoneFound(t *testing.T) {
	data := le32(uint32(rv.OpOpImm), uint32(rv.OpOpImm))
	got := RecoverGP(data, 0x1000, 0x1000+uint64(len(data)), false)
	assert.Equal(t, uint64(0), got)
}

func TestSortedJumpLocationsOrdering(t *testing.T) {
	m := map[uint64]struct{}{0x300: {}, 0x100: {}, 0x200: {}}
	got := SortedJumpLocations(m)
	assert.Equal(t, []uint64{0x100, 0x200, 0x300}, got)
}
