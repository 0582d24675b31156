package decoder

import "github.com/imbev/rvtrjit/rverr"

// PageSize mirrors the host page size the original allocates decoder
// caches in multiples of. 4096 matches every platform libriscv targets.
const PageSize = 4096

// Table is the flat, page-concatenated DecoderEntry array for one
// execute segment, addressed by EntryAt(pc) rather than a raw rebased
// pointer (see DESIGN.md "Backward pointers with ownership": the
// rebased-pointer trick from spec.md §9 is a tuning detail we expose
// only via this accessor, never as an exported raw pointer).
type Table struct {
	entries      []Entry
	stride       int // 2 if compressed enabled, else 4
	pagedataBase uint64
	handlers     *HandlerTable
}

// NewTable allocates a Table covering plen bytes of address space
// starting at pagedataBase, with plen rounded up to a whole number of
// pages by the caller (see segment.New).
func NewTable(pagedataBase uint64, plen uint64, stride int) *Table {
	n := plen / uint64(stride)
	return &Table{
		entries:      make([]Entry, n),
		stride:       stride,
		pagedataBase: pagedataBase,
		handlers:     NewHandlerTable(),
	}
}

// Stride reports the addressing granularity: 2 bytes with compressed
// enabled, else 4.
func (t *Table) Stride() int { return t.stride }

// Handlers returns the segment-local handler table.
func (t *Table) Handlers() *HandlerTable { return t.handlers }

// Len returns the number of entries in the table.
func (t *Table) Len() int { return len(t.entries) }

// index computes the slot index for pc, or -1 if out of range.
func (t *Table) index(pc uint64) int {
	if pc < t.pagedataBase {
		return -1
	}
	idx := (pc - t.pagedataBase) / uint64(t.stride)
	if idx >= uint64(len(t.entries)) {
		return -1
	}
	return int(idx)
}

// EntryAt returns a pointer to the entry for guest PC pc, or nil if pc
// is outside the table's range (EntryAt is an internal accessor, not
// exposed raw across package boundaries).
func (t *Table) EntryAt(pc uint64) *Entry {
	idx := t.index(pc)
	if idx < 0 {
		return nil
	}
	return &t.entries[idx]
}

// EntryAtChecked is EntryAt but returns an error instead of nil.
func (t *Table) EntryAtChecked(pc uint64) (*Entry, error) {
	idx := t.index(pc)
	if idx < 0 {
		return nil, rverr.New(rverr.InvalidProgram, "decoder.Table.EntryAtChecked", nil)
	}
	return &t.entries[idx], nil
}

// Clone returns a deep copy of the table, sharing the same HandlerTable
// (handlers are immutable once interned during pre-decode, so sharing is
// safe) but with an independent entries slice — used to build the
// "patched" decoder copy for live-patching (spec.md §4.6/§5).
func (t *Table) Clone() *Table {
	clone := &Table{
		entries:      make([]Entry, len(t.entries)),
		stride:       t.stride,
		pagedataBase: t.pagedataBase,
		handlers:     t.handlers,
	}
	copy(clone.entries, t.entries)
	return clone
}
