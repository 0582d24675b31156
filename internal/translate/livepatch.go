package translate

import (
	"github.com/imbev/rvtrjit/internal/abi"
	"github.com/imbev/rvtrjit/internal/decoder"
	"github.com/imbev/rvtrjit/rverr"
	"github.com/imbev/rvtrjit/segment"
)

// blockStart walks backward from addr to find the entry that owns the
// straight-line run containing it: the nearest preceding entry whose
// BlockBytes ceiling reaches past addr (candidate+BlockBytes > addr),
// repeated while each earlier entry still does. Mirrors the
// backward scan tr_translate.cpp does before rewriting a block's
// boundary in place.
func blockStart(table *decoder.Table, stride int, addr uint64) uint64 {
	pc := addr
	for pc >= uint64(stride) {
		candidate := pc - uint64(stride)
		entry := table.EntryAt(candidate)
		if entry == nil {
			break
		}
		if candidate+uint64(entry.BlockBytes(stride)) > addr {
			pc = candidate
			continue
		}
		break
	}
	return pc
}

// LivePatch installs a freshly translated block covering [addr, addr+
// lenBytes) into seg, rebuilding the decoder table on a private clone
// and publishing it atomically so concurrent readers never see a
// half-rewritten table — spec.md §4.6/§5's live-patch requirement.
//
// fn is the new block's entry point, already resolved by Activate;
// newIdxEnd/newICount are the fastsim fields RealizeFastsim computed
// for the freshly discovered block replacing the old one at addr.
func LivePatch(seg *segment.Execute, addr uint64, lenBytes int, fn abi.BintrFunc, newIdxEnd, newICount uint8) error {
	current := seg.Table() // clone the latest published table, not the original, so repeated patches accumulate
	stride := current.Stride()

	patched := current.Clone()

	start := blockStart(patched, stride, addr)
	if start != addr {
		// The new block does not align with an existing block boundary:
		// truncate the preceding block's run so it stops exactly where the
		// new one begins, the same idxend rewrite
		// DecoderCache<W>::generate_decoder_cache performs when a block is
		// split by a later patch.
		prev := patched.EntryAt(start)
		if prev == nil {
			return rverr.New(rverr.InvalidProgram, "translate.LivePatch", nil)
		}
		truncated := int((addr - start) / uint64(stride))
		if truncated < 0 || truncated > 0xFF {
			return rverr.New(rverr.InvalidProgram, "translate.LivePatch", nil)
		}
		prev.IdxEnd = uint8(truncated)
		prev.Bytecode = decoder.BytecodeLivepatch
	}

	entry, err := patched.EntryAtChecked(addr)
	if err != nil {
		return err
	}
	entry.Bytecode = decoder.BytecodeLivepatch
	entry.IdxEnd = newIdxEnd
	entry.ICount = newICount

	merged := seg.AllTranslatedFuncs()
	merged[addr] = fn

	// Publishing order matters: install the function map before flipping
	// the bytecode to BytecodeTranslated, so a reader that observes the
	// final bytecode value can never find a missing map entry.
	seg.SetTranslatedFuncs(merged)
	entry.Bytecode = decoder.BytecodeTranslated

	// Go's atomic.Pointer store/load pair already establishes the
	// happens-before edge a manual fence would buy in the original's C++
	// source; publishing the table is the one synchronization point a
	// concurrent Table() caller observes.
	seg.PublishPatchedTable(patched)
	return nil
}
