package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imbev/rvtrjit/internal/rv"
)

func encodeWord(b []byte, off int, word uint32) {
	binary.LittleEndian.PutUint32(b[off:], word)
}

func TestTableEntryAtRoundTrip(t *testing.T) {
	table := NewTable(0x1000, PageSize, 4)
	entry := table.EntryAt(0x1000)
	require.NotNil(t, entry)
	entry.RawInstr = 0xdeadbeef
	assert.Equal(t, uint32(0xdeadbeef), table.EntryAt(0x1000).RawInstr)
	assert.Nil(t, table.EntryAt(0x2000)) // outside the one-page table
}

func TestTableClonePreservesHandlersCopiesEntries(t *testing.T) {
	table := NewTable(0x1000, PageSize, 4)
	table.EntryAt(0x1000).IdxEnd = 7
	clone := table.Clone()
	assert.Equal(t, uint8(7), clone.EntryAt(0x1000).IdxEnd)
	assert.Same(t, table.Handlers(), clone.Handlers())

	clone.EntryAt(0x1000).IdxEnd = 9
	assert.Equal(t, uint8(7), table.EntryAt(0x1000).IdxEnd, "clone entries must not alias the original")
}

func TestHandlerTableInternStableAcrossCalls(t *testing.T) {
	ht := NewHandlerTable()
	var keyA, keyB Handler
	idx1, err := ht.Intern(&keyA, func(cpu any, instr uint32) error { return nil })
	require.NoError(t, err)
	idx2, err := ht.Intern(&keyA, func(cpu any, instr uint32) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, idx1, idx2, "same key must return the same slot")

	idx3, err := ht.Intern(&keyB, func(cpu any, instr uint32) error { return nil })
	require.NoError(t, err)
	assert.NotEqual(t, idx1, idx3)
}

func TestPredecodeFillsEntriesAndInternsHandlers(t *testing.T) {
	data := make([]byte, 16)
	encodeWord(data, 0, uint32(rv.OpOpImm))  // ADDI-shaped, non-stopping
	encodeWord(data, 4, uint32(rv.OpBranch)) // stopping opcode
	encodeWord(data, 8, uint32(rv.OpOpImm))
	encodeWord(data, 12, uint32(rv.OpOpImm))

	table := NewTable(0x1000, PageSize, 4)
	var addiKey, branchKey Handler
	decode := func(instr uint32) (*Handler, Handler, uint8) {
		op := rv.Instr(instr).Opcode()
		if op == rv.OpBranch {
			return &branchKey, func(cpu any, instr uint32) error { return nil }, 2
		}
		return &addiKey, func(cpu any, instr uint32) error { return nil }, 1
	}

	err := Predecode(table, data, PredecodeOptions{
		ExecBegin: 0x1000,
		ExecEnd:   0x1010,
		Decode:    decode,
	})
	require.NoError(t, err)

	e0 := table.EntryAt(0x1000)
	assert.True(t, e0.IsSet())
	assert.Equal(t, uint8(1), e0.Bytecode)

	e1 := table.EntryAt(0x1004)
	assert.Equal(t, uint8(2), e1.Bytecode)

	assert.Equal(t, 3, table.Handlers().Len()) // sentinel + addi + branch
}

func TestPredecodeAlreadyTranslatedMarksBlockEnd(t *testing.T) {
	data := make([]byte, 8)
	encodeWord(data, 0, uint32(rv.OpOpImm))

	table := NewTable(0x1000, PageSize, 4)
	err := Predecode(table, data, PredecodeOptions{
		ExecBegin:         0x1000,
		ExecEnd:           0x1008,
		AlreadyTranslated: true,
		IsMapped:          func(addr uint64) bool { return addr == 0x1000 },
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(rv.FASTSIMBlockEnd), table.EntryAt(0x1000).RawInstr)
}

func TestRealizeFastsimPlainResetsAtStoppingOpcode(t *testing.T) {
	data := make([]byte, 12)
	encodeWord(data, 0, uint32(rv.OpOpImm))
	encodeWord(data, 4, uint32(rv.OpOpImm))
	encodeWord(data, 8, uint32(rv.OpBranch))

	table := NewTable(0x1000, PageSize, 4)
	for pc := uint64(0x1000); pc < 0x100C; pc += 4 {
		table.EntryAt(pc).RawInstr = readWord(data, pc, 0x1000)
	}

	RealizeFastsim(table, RealizeFastsimOptions{
		BasePC: 0x1000,
		LastPC: 0x100C,
		Data:   data,
	})

	assert.Equal(t, uint8(2), table.EntryAt(0x1000).IdxEnd)
	assert.Equal(t, uint8(1), table.EntryAt(0x1004).IdxEnd)
	assert.Equal(t, uint8(0), table.EntryAt(0x1008).IdxEnd)
}

func TestRealizeFastsimCompressedXLenSelectsJALVsADDIW(t *testing.T) {
	// bits[15:13]=001, bits[1:0]=01: C.JAL on RV32, C.ADDIW on RV64 (the
	// only opcode IsRegularCompressed's classification depends on XLen
	// for). Followed by a 4-byte BRANCH word, a stopping opcode.
	quad1Funct1 := uint16(0x2001)
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:], quad1Funct1)
	encodeWord(data, 2, uint32(rv.OpBranch))

	table64 := NewTable(0x1000, PageSize, 2)
	RealizeFastsim(table64, RealizeFastsimOptions{
		BasePC: 0x1000, LastPC: 0x1006, Data: data, Compressed: true, XLen: 64,
	})
	// On RV64 the compressed slot is regular (C.ADDIW): it joins the same
	// group as the following BRANCH, so its IdxEnd counts both.
	assert.Equal(t, uint8(3), table64.EntryAt(0x1000).IdxEnd)

	table32 := NewTable(0x1000, PageSize, 2)
	RealizeFastsim(table32, RealizeFastsimOptions{
		BasePC: 0x1000, LastPC: 0x1006, Data: data, Compressed: true, XLen: 32,
	})
	// On RV32 the same slot is C.JAL, irregular: its group ends right
	// there, so its IdxEnd only counts itself.
	assert.Equal(t, uint8(1), table32.EntryAt(0x1000).IdxEnd)
}

func TestEntryInstructionCountCompressedCorrection(t *testing.T) {
	e := Entry{IdxEnd: 5, ICount: 2}
	assert.Equal(t, 6, e.InstructionCount(false))
	assert.Equal(t, 4, e.InstructionCount(true))
}
