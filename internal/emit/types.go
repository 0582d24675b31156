package emit

// Mapping is the (addr, symbol) pair the emitter produces for every PC
// that must be independently reachable — a block's own entry point, plus
// every global JAL target or re-entry point inside the block's body —
// mirroring TransMapping of spec.md §3.
type Mapping struct {
	Addr   uint64
	Symbol string
}

// ArenaMode selects one of the three memory-lowering strategies of
// spec.md §4.5.
type ArenaMode int

const (
	// ArenaCallback always calls the mem_ld/mem_st callback: no arena
	// pointer assumptions at all.
	ArenaCallback ArenaMode = iota
	// ArenaEncompassing lowers every access unconditionally to
	// arena_ptr + (addr & mask), used when the guest address space is a
	// power-of-two window over a host buffer.
	ArenaEncompassing
	// ArenaFlat lowers to a readable/writable bounds check that
	// fast-paths to pointer arithmetic and slow-paths to the callback.
	ArenaFlat
)

// Options configures one call to EmitBlock, carrying everything
// outside the block itself the emitter needs: XLEN, extension flags, and
// the selected memory-lowering strategy.
type Options struct {
	XLen              int // 32, 64, or 128
	Compressed        bool
	Float             bool
	Double            bool
	Vector            bool
	Atomic            bool
	ArenaMode         ArenaMode
	EncompassingBits  int    // width N when ArenaMode == ArenaEncompassing
	ArenaEnd          uint64 // upper bound for GP-fold reads/writes when ArenaMode != ArenaCallback
	InitialRodataEnd  uint64 // lower bound for GP-fold writes
	UseSharedSegments bool
}
