package translate

import (
	"github.com/imbev/rvtrjit/internal/abi"
	"github.com/imbev/rvtrjit/internal/decoder"
	"github.com/imbev/rvtrjit/internal/emit"
	"github.com/imbev/rvtrjit/rverr"
	"github.com/imbev/rvtrjit/segment"
)

// Activation is the result of installing a translation into a segment:
// the resolved entry points and the mapping manifest that produced
// them, kept around so a later live-patch can rebuild from it.
type Activation struct {
	Funcs    map[uint64]abi.BintrFunc
	Mappings []abi.Mapping
	Closer   func() error
}

// Activate loads path (a compiled dylib) or, when embedded is true,
// consults the embedded-translation table for hash, and installs the
// resulting entry points into seg's decoder table — spec.md §4.6's
// "activation" step. mappings is the mapping list EmitBlock produced;
// when it is non-empty, a dylib or embedded mapping whose address is not
// in it is rejected.
//
// apiTable is the raw pointer to a native-ABI CallbackTable the embedding
// machine has already built and owns; marshaling a callback.Table into
// that native layout is the embedding machine's concern, out of scope
// here the same way spec.md §1 puts CPU execution itself out of scope.
//
// useEmbedded gates whether the embedded-translation table is consulted
// at all; Loader ties this to Options.TranslateEnableEmbedded so a
// disabled embedded table never short-circuits a hash match that was
// only ever meant to be compiled fresh.
func Activate(seg *segment.Execute, hash uint32, path string, mappings []emit.Mapping, apiTable uintptr, useEmbedded bool) (*Activation, error) {
	if useEmbedded {
		if embedded, ok := lookupEmbedded(hash); ok {
			return activateEmbedded(seg, embedded, mappings)
		}
	}
	return activateDylib(seg, path, mappings, apiTable)
}

// activateEmbedded wires a pre-registered translation's mappings and
// handler slice directly into the segment, with no dlopen/dlsym
// roundtrip at all — the embedded-translations fast path spec.md §4.6
// documents.
func activateEmbedded(seg *segment.Execute, e embeddedEntry, blockMappings []emit.Mapping) (*Activation, error) {
	if int(e.hash) == 0 {
		return nil, rverr.New(rverr.InvalidProgram, "translate.activateEmbedded", nil)
	}
	funcs, err := installFuncs(seg, e.mappings, e.handlers, blockMappings)
	if err != nil {
		return nil, err
	}
	seg.SetTranslatedFuncs(funcs)
	seg.MarkEmbeddedTranslated()
	return &Activation{Funcs: funcs, Mappings: e.mappings, Closer: func() error { return nil }}, nil
}

// activateDylib loads a compiled translation off disk and installs it,
// the spec.md §4.6 dynamic-compilation path.
func activateDylib(seg *segment.Execute, path string, blockMappings []emit.Mapping, apiTable uintptr) (*Activation, error) {
	dl, exports, err := dlopenLibrary(path)
	if err != nil {
		return nil, err
	}

	funcs, err := installFuncs(seg, exports.Mappings, exports.UniqueMappings, blockMappings)
	if err != nil {
		dl.Close()
		return nil, err
	}

	if exports.Init != nil {
		exports.Init(apiTable, 0)
	}

	seg.SetTranslatedFuncs(funcs)
	seg.SetBinaryTranslated(dl, false)

	return &Activation{
		Funcs:    funcs,
		Mappings: exports.Mappings,
		Closer:   dl.Close,
	}, nil
}

// installFuncs resolves each (addr, mapping_index) pair against
// handlers, installs decoder.BytecodeTranslated into the matching entry
// of seg's table, and returns the resulting PC -> BintrFunc map.
func installFuncs(seg *segment.Execute, mappings []abi.Mapping, handlers []abi.BintrFunc, blockMappings []emit.Mapping) (map[uint64]abi.BintrFunc, error) {
	known := make(map[uint64]bool, len(blockMappings))
	for _, bm := range blockMappings {
		known[bm.Addr] = true
	}

	funcs := make(map[uint64]abi.BintrFunc, len(mappings))
	for _, m := range mappings {
		if int(m.MappingIndex) >= len(handlers) {
			return nil, rverr.New(rverr.InvalidProgram, "translate.installFuncs", nil)
		}
		if len(blockMappings) > 0 && !known[m.Addr] {
			// A dylib claiming an entry point outside the block set we
			// emitted for it is compiled against a stale or mismatched
			// source; never install it.
			return nil, rverr.New(rverr.InvalidProgram, "translate.installFuncs", nil)
		}
		fn := handlers[m.MappingIndex]
		funcs[m.Addr] = fn

		entry, err := seg.RawTable().EntryAtChecked(m.Addr)
		if err != nil {
			return nil, err
		}
		entry.Bytecode = decoder.BytecodeTranslated
	}
	return funcs, nil
}
