package emit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imbev/rvtrjit/internal/blockscan"
	"github.com/imbev/rvtrjit/internal/rv"
)

func word(opcode, rd, rs1, rs2, funct3, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func lui(rd uint32, upperBits uint32) uint32 { return (upperBits & 0xFFFFF000) | (rd << 7) | rv.OpLui }

func itype(opcode, rd, rs1, funct3 uint32, imm int32) uint32 {
	return (uint32(imm&0xFFF) << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func TestEmitBlockStraightLine(t *testing.T) {
	info := &blockscan.Info{
		BasePC: 0x1000,
		EndPC:  0x1008,
		Instructions: []blockscan.Instruction{
			{PC: 0x1000, Word: lui(5, 0x1000)},
			{PC: 0x1004, Word: itype(rv.OpOpImm, 6, 5, 0, 3)},
		},
		JumpLocations:       map[uint64]struct{}{},
		GlobalJumpLocations: map[uint64]struct{}{},
	}

	code, mapping, err := EmitBlock(info, Options{XLen: 64})
	require.NoError(t, err)
	require.Len(t, mapping, 1)
	assert.Equal(t, Mapping{Addr: 0x1000, Symbol: "f_1000"}, mapping[0])

	assert.Contains(t, code, "static ReturnValues f_1000(")
	assert.Contains(t, code, "cpu->r[5] = (int64_t)4096;")
	assert.Contains(t, code, "cpu->r[6] = cpu->r[5] + (int64_t)3;")
	assert.Contains(t, code, "counter += 2;")
}

func TestEmitBlockBranchExitsFunctionOutOfRange(t *testing.T) {
	// BEQ x0, x0, +0x100 — always taken, target outside the block.
	branch := word(rv.OpBranch, 0, 0, 0, 0x0, 0)
	branch |= ((0x100 >> 11) & 0x1) << 7
	branch |= ((0x100 >> 5) & 0x3F) << 25
	branch |= ((0x100 >> 1) & 0xF) << 8

	info := &blockscan.Info{
		BasePC:              0x1000,
		EndPC:               0x1004,
		Instructions:        []blockscan.Instruction{{PC: 0x1000, Word: branch}},
		JumpLocations:       map[uint64]struct{}{},
		GlobalJumpLocations: map[uint64]struct{}{},
	}
	code, _, err := EmitBlock(info, Options{XLen: 64})
	require.NoError(t, err)
	assert.Contains(t, code, "if (0ULL == 0ULL) {")
	assert.Contains(t, code, "cpu->pc = 4352ULL;") // 0x1000 + 0x100
}

func TestEmitBlockJALBackwardsWithinBlockChecksCounter(t *testing.T) {
	// JAL x0, -4 at PC 0x1004 jumping back to 0x1000, which is recorded
	// as an intra-block jump location.
	back := buildJAL(0, -4)

	info := &blockscan.Info{
		BasePC: 0x1000,
		EndPC:  0x1008,
		Instructions: []blockscan.Instruction{
			{PC: 0x1000, Word: itype(rv.OpOpImm, 1, 0, 0, 1)},
			{PC: 0x1004, Word: back},
		},
		JumpLocations:       map[uint64]struct{}{0x1000: {}},
		GlobalJumpLocations: map[uint64]struct{}{0x1000: {}},
	}
	code, mapping, err := EmitBlock(info, Options{XLen: 64})
	require.NoError(t, err)

	assert.Contains(t, code, "if (LIKELY(counter < max_counter)) goto f_1000;")
	assert.Contains(t, code, "cpu->pc = 4096ULL;")
	// the backward target must also be reachable via the switch header
	var sawCase bool
	for _, line := range strings.Split(code, "\n") {
		if strings.Contains(line, "case 4096ULL: goto f_1000;") {
			sawCase = true
		}
	}
	assert.True(t, sawCase)
	require.Len(t, mapping, 1) // only the block's own entry; 0x1000 == BasePC so no duplicate
}

func buildJAL(rd uint32, offset int32) uint32 {
	u := uint32(offset)
	imm20 := (u >> 20) & 0x1
	imm10_1 := (u >> 1) & 0x3FF
	imm11 := (u >> 11) & 0x1
	imm19_12 := (u >> 12) & 0xFF
	immField := (imm20 << 31) | (imm19_12 << 12) | (imm11 << 20) | (imm10_1 << 21)
	return immField | (rd << 7) | rv.OpJal
}

func TestEmitOpImmADDIWWrapsTo32Bits(t *testing.T) {
	info := &blockscan.Info{
		BasePC:              0x2000,
		EndPC:               0x2004,
		Instructions:        []blockscan.Instruction{{PC: 0x2000, Word: itype(rv.OpOpImm32, 1, 2, 0, 5)}},
		JumpLocations:       map[uint64]struct{}{},
		GlobalJumpLocations: map[uint64]struct{}{},
	}
	code, _, err := EmitBlock(info, Options{XLen: 64})
	require.NoError(t, err)
	assert.Contains(t, code, "cpu->r[1] = (int64_t)(int32_t)(cpu->r[2] + (int64_t)5);")
}

func TestEmitSystemECALLSetsPCBeforeSyscall(t *testing.T) {
	ecall := itype(rv.OpSystem, 0, 0, 0, 0) // funct3=0, imm=0x0 -> ECALL
	info := &blockscan.Info{
		BasePC:              0x4000,
		EndPC:               0x4004,
		Instructions:        []blockscan.Instruction{{PC: 0x4000, Word: ecall}},
		JumpLocations:       map[uint64]struct{}{},
		GlobalJumpLocations: map[uint64]struct{}{},
	}
	code, _, err := EmitBlock(info, Options{XLen: 64})
	require.NoError(t, err)

	pcIdx := strings.Index(code, "cpu->pc = 16384ULL;") // 0x4000
	callIdx := strings.Index(code, "api.system_call(cpu,")
	require.True(t, pcIdx >= 0 && callIdx >= 0)
	assert.Less(t, pcIdx, callIdx, "cpu->pc must be set before the syscall callback runs")
}

func TestEmitSystemCSRSetsPCBeforeCallback(t *testing.T) {
	csrrw := itype(rv.OpSystem, 1, 2, 1, 0) // funct3=1 -> CSR, routed through api.system
	info := &blockscan.Info{
		BasePC:              0x5000,
		EndPC:               0x5004,
		Instructions:        []blockscan.Instruction{{PC: 0x5000, Word: csrrw}},
		JumpLocations:       map[uint64]struct{}{},
		GlobalJumpLocations: map[uint64]struct{}{},
	}
	code, _, err := EmitBlock(info, Options{XLen: 64})
	require.NoError(t, err)

	pcIdx := strings.Index(code, "cpu->pc = 20480ULL;") // 0x5000
	callIdx := strings.Index(code, "api.system(cpu,")
	require.True(t, pcIdx >= 0 && callIdx >= 0)
	assert.Less(t, pcIdx, callIdx, "cpu->pc must be set before api.system runs")
}

func TestEmitUnknownRoutesCompressedThroughCallback(t *testing.T) {
	info := &blockscan.Info{
		BasePC:              0x3000,
		EndPC:               0x3002,
		Instructions:        []blockscan.Instruction{{PC: 0x3000, Word: 0x0001}}, // C.NOP, low 16 bits only
		JumpLocations:       map[uint64]struct{}{},
		GlobalJumpLocations: map[uint64]struct{}{},
	}
	code, _, err := EmitBlock(info, Options{XLen: 64, Compressed: true})
	require.NoError(t, err)
	assert.Contains(t, code, "api.execute(cpu, 1U)")
}
