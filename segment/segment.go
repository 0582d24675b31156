// Package segment implements ExecuteSegment: the owning container for a
// contiguous guest instruction range, its decoder table, and (once
// translated) its loaded dylib handle — spec.md §3.
package segment

import (
	"sync"
	"sync/atomic"

	"github.com/imbev/rvtrjit/internal/abi"
	"github.com/imbev/rvtrjit/internal/decoder"
	"github.com/imbev/rvtrjit/rverr"
)

// PageSize must match decoder.PageSize; re-exported here so callers
// building segments don't need to import internal/decoder directly.
const PageSize = decoder.PageSize

// Execute owns one contiguous guest instruction range: the raw bytes,
// the decoder table built over them, and (after translation) the loaded
// dylib and patched-decoder state used for live-patching.
type Execute struct {
	mu sync.RWMutex

	pagedataBase uint64
	execBegin    uint64
	execEnd      uint64
	execData     []byte // [pagedataBase, pagedataBase+len(execData))

	table *decoder.Table
	hash  uint32

	translated     bool
	dylibHandle    any // opaque dlopen handle owned by internal/translate
	isLibTCC       bool
	funcs          map[uint64]abi.BintrFunc // block PC -> translated entry point

	// Live-patch state: patched is built off to the side and only
	// published once fully constructed (spec.md §5).
	patched atomic.Pointer[decoder.Table]

	// refs counts machines sharing this segment when
	// use_shared_execute_segments is enabled (spec.md §5).
	refs atomic.Int32
}

// New allocates an Execute segment covering [vaddr, vaddr+len(data)),
// rounding the backing buffer out to page boundaries the way
// create_execute_segment does in decoder_cache.cpp: pbase = vaddr &
// ~PMASK, with zero-padded pre/post regions. It then runs
// generate_decoder_cache's two passes itself — decoder.Predecode then
// decoder.RealizeFastsim — so every Table this constructor hands out is
// already populated, never the all-zero table a caller would otherwise
// have to remember to fill in later.
func New(vaddr uint64, data []byte, compressed bool, xlen int) (*Execute, error) {
	if len(data) == 0 {
		return nil, rverr.New(rverr.InvalidProgram, "segment.New", nil)
	}
	pmask := uint64(PageSize - 1)
	pbase := vaddr &^ pmask
	prelen := vaddr - pbase
	midlen := uint64(len(data)) + prelen
	plen := (midlen + pmask) &^ pmask

	if prelen > plen || prelen+uint64(len(data)) > plen || pbase+plen < pbase {
		return nil, rverr.New(rverr.InvalidProgram, "segment.New", nil)
	}

	execData := make([]byte, plen)
	copy(execData[prelen:], data)

	stride := 4
	if compressed {
		stride = 2
	}

	execBegin := vaddr
	execEnd := vaddr + uint64(len(data))

	table := decoder.NewTable(pbase, plen, stride)
	if err := decoder.Predecode(table, data, decoder.PredecodeOptions{
		ExecBegin:  execBegin,
		ExecEnd:    execEnd,
		Compressed: compressed,
	}); err != nil {
		return nil, err
	}
	decoder.RealizeFastsim(table, decoder.RealizeFastsimOptions{
		BasePC:     execBegin,
		LastPC:     execEnd,
		Data:       data,
		Compressed: compressed,
		XLen:       xlen,
	})

	e := &Execute{
		pagedataBase: pbase,
		execBegin:    execBegin,
		execEnd:      execEnd,
		execData:     execData,
		table:        table,
	}
	e.refs.Store(1)
	return e, nil
}

func (e *Execute) PagedataBase() uint64 { return e.pagedataBase }
func (e *Execute) ExecBegin() uint64    { return e.execBegin }
func (e *Execute) ExecEnd() uint64      { return e.execEnd }
func (e *Execute) ExecData() []byte     { return e.execData }
func (e *Execute) Table() *decoder.Table {
	if p := e.patched.Load(); p != nil {
		return p
	}
	return e.table
}

// RawTable returns the unpatched decoder table, bypassing the
// live-patch indirection — used by the loader when it needs to mutate
// the original entries directly (e.g. non-live-patch activation).
func (e *Execute) RawTable() *decoder.Table { return e.table }

// IsWithin reports whether addr falls inside [ExecBegin, ExecEnd).
func (e *Execute) IsWithin(addr uint64) bool { return addr >= e.execBegin && addr < e.execEnd }

func (e *Execute) Hash() uint32     { return e.hash }
func (e *Execute) SetHash(h uint32) { e.hash = h }

func (e *Execute) IsBinaryTranslated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.translated
}

// SetBinaryTranslated records the loaded dylib handle (nil + false to
// clear, on a failed activation).
func (e *Execute) SetBinaryTranslated(handle any, isLibTCC bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dylibHandle = handle
	e.translated = handle != nil
	e.isLibTCC = isLibTCC
}

// MarkEmbeddedTranslated records that seg now runs an embedded
// translation: there is no dylib handle to own or close, so this is
// distinct from SetBinaryTranslated rather than calling it with a
// placeholder handle.
func (e *Execute) MarkEmbeddedTranslated() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dylibHandle = nil
	e.translated = true
	e.isLibTCC = false
}

func (e *Execute) DylibHandle() any { return e.dylibHandle }
func (e *Execute) IsLibTCC() bool   { return e.isLibTCC }

// SetTranslatedFuncs installs the block-PC -> entry-point map produced by
// activation, replacing any prior set (e.g. on live-patch recompilation).
func (e *Execute) SetTranslatedFuncs(funcs map[uint64]abi.BintrFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs = funcs
}

// TranslatedFuncAt returns the translated entry point for a block PC, if
// any, and whether one was found.
func (e *Execute) TranslatedFuncAt(pc uint64) (abi.BintrFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.funcs[pc]
	return fn, ok
}

// AllTranslatedFuncs returns a snapshot copy of the PC -> entry-point
// map, for callers (e.g. live-patching) that need to extend it without
// racing concurrent lookups.
func (e *Execute) AllTranslatedFuncs() map[uint64]abi.BintrFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[uint64]abi.BintrFunc, len(e.funcs))
	for pc, fn := range e.funcs {
		out[pc] = fn
	}
	return out
}

// PublishPatchedTable installs a fully-constructed patched decoder
// table, following the ordering rule of spec.md §5: callers finish all
// writes to the table before calling this, and Table() callers that
// observe the new pointer are guaranteed to see a complete table. Go's
// memory model gives that happens-before edge through the atomic
// store/load pair alone, so no separate fence is issued here or by
// internal/translate.
func (e *Execute) PublishPatchedTable(t *decoder.Table) {
	e.patched.Store(t)
}

// AddRef / Release implement the refcounting spec.md §5 requires for
// segments shared across machines when use_shared_execute_segments is
// set.
func (e *Execute) AddRef()  { e.refs.Add(1) }
func (e *Execute) Release() int32 { return e.refs.Add(-1) }
func (e *Execute) RefCount() int32 { return e.refs.Load() }
