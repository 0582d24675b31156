package callback

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// Reference is a minimal CallbackTable backed by a flat byte slice,
// used only by internal package tests to exercise emitted code paths
// and the loader's activation logic without a real guest machine
// attached (spec.md §6 treats the actual interpreter as an external
// collaborator).
type Reference struct {
	Memory []byte
}

// NewReference allocates a Reference with a zeroed memory arena of the
// given size.
func NewReference(size int) *Reference {
	return &Reference{Memory: make([]byte, size)}
}

// Table returns a callback.Table wired to this reference memory.
func (r *Reference) Table() Table {
	return Table{
		MemLoad:          r.memLoad,
		MemStore:         r.memStore,
		VecLoad:          func(*CPU, int, uint64) {},
		VecStore:         func(*CPU, uint64, int) {},
		SystemCall:       func(*CPU, int) int { return 0 },
		System:           func(*CPU, uint32) {},
		Execute:          func(*CPU, uint32) uint { return 0 },
		ExecuteHandler:   func(*CPU, uint, uint32) uint { return 0 },
		TriggerException: func(cpu *CPU, pc uint64, kind int) { cpu.PC = pc },
		Trace:            func(*CPU, string, uint64, uint32) {},
		Sqrtf32:          func(f float32) float32 { return float32(math.Sqrt(float64(f))) },
		Sqrtf64:          math.Sqrt,
		Clz:              func(x uint32) int { return bits.LeadingZeros32(x) },
		Clzl:             func(x uint64) int { return bits.LeadingZeros64(x) },
		Ctz:              func(x uint32) int { return bits.TrailingZeros32(x) },
		Ctzl:             func(x uint64) int { return bits.TrailingZeros64(x) },
		Cpop:             func(x uint32) int { return bits.OnesCount32(x) },
		Cpopl:            func(x uint64) int { return bits.OnesCount64(x) },
	}
}

func (r *Reference) memLoad(_ *CPU, addr uint64, size uint) uint64 {
	if int(addr)+int(size) > len(r.Memory) {
		return 0
	}
	switch size {
	case 1:
		return uint64(r.Memory[addr])
	case 2:
		return uint64(binary.LittleEndian.Uint16(r.Memory[addr:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(r.Memory[addr:]))
	case 8:
		return binary.LittleEndian.Uint64(r.Memory[addr:])
	default:
		return 0
	}
}

func (r *Reference) memStore(_ *CPU, addr uint64, value uint64, size uint) {
	if int(addr)+int(size) > len(r.Memory) {
		return
	}
	switch size {
	case 1:
		r.Memory[addr] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(r.Memory[addr:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(r.Memory[addr:], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(r.Memory[addr:], value)
	}
}
