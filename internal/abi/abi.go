// Package abi mirrors the dylib ABI the emitted C code exports, spec.md
// §6: the symbols the loader looks up after compiling or loading a
// translation, and the value types it passes across that boundary.
package abi

// Mapping is the wire form of one (addr, mapping_index) pair exported
// as the dylib's `mappings[]` array.
type Mapping struct {
	Addr         uint64
	MappingIndex uint32
}

// ReturnValues is the two-word struct every translated block function
// returns: the updated instruction counter and the instruction budget it
// was given, letting the caller detect whether the budget was exhausted.
type ReturnValues struct {
	Counter    uint64
	MaxCounter uint64
}

// BintrFunc is the Go-side function-pointer type for one translated
// block: ReturnValues(*)(CPU*, uint64_t, uint64_t, addr_t) in the emitted
// C. The interpreter side of this call only ever happens inside loaded
// native code; this type exists so Go code that inspects or mocks a
// loaded translation has something to name.
type BintrFunc func(cpu uintptr, counter, maxCounter, pc uint64) ReturnValues

// Exports is the full dylib surface the loader resolves by symbol name
// after dlopen: init, no_mappings, mappings, no_handlers,
// unique_mappings.
type Exports struct {
	Init           func(table uintptr, arena uintptr)
	NoMappings     uint32
	Mappings       []Mapping
	NoHandlers     uint32
	UniqueMappings []BintrFunc
}

// MaxMappings is the activation-time sanity bound on NoMappings, spec.md
// §4.6: a dylib claiming more than this is rejected outright.
const MaxMappings = 500_000
