package translate

import (
	"sync"

	"github.com/imbev/rvtrjit/internal/emit"
	"github.com/imbev/rvtrjit/rverr"
	"github.com/imbev/rvtrjit/segment"
)

// loadMu serializes dlopen/activation across the whole process: loading
// a shared library is not guaranteed thread-safe on every libc, the
// same reason tr_translate.cpp takes a global mutex around its own
// dlopen call (spec.md §5).
var loadMu sync.Mutex

// Loader ties the pipeline stages together: hash the segment, check the
// embedded-translation table, otherwise compile (deduplicated by
// singleflight) and dlopen, then install the result into the segment's
// decoder table — spec.md §4.6 end to end.
type Loader struct {
	Opt  Options
	Dir  string // scratch/cache directory for generated sources and .so files
	XLen int
}

// NewLoader returns a Loader configured from opt.
func NewLoader(opt Options, dir string, xlen int) *Loader {
	return &Loader{Opt: opt, Dir: dir, XLen: xlen}
}

// Load runs the full pipeline for one segment: blocks is the per-PC C
// source EmitBlock produced for every discovered block, mappings is
// their combined manifest, apiTable is the native CallbackTable pointer
// Activate forwards to the dylib's init().
func (l *Loader) Load(seg *segment.Execute, blocks map[uint64]string, mappings []emit.Mapping, apiTable uintptr) (*Activation, error) {
	if !l.Opt.TranslateEnabled {
		return nil, rverr.New(rverr.InvalidProgram, "translate.Loader.Load", nil)
	}

	done := stage(l.Opt.TranslateTiming, "hash")
	defines := Defines(l.Opt, l.XLen)
	hash, err := HashSegment(seg.ExecData(), defines)
	done()
	if err != nil {
		return nil, err
	}
	seg.SetHash(hash)

	if l.Opt.TranslateEnableEmbedded {
		if _, ok := lookupEmbedded(hash); ok {
			loadMu.Lock()
			defer loadMu.Unlock()
			return Activate(seg, hash, "", mappings, apiTable, true)
		}
	}

	done = stage(l.Opt.TranslateTiming, "compile")
	src := Source(blocks, mappings)
	path, err := Compile(l.Dir, hash, src, l.Opt, l.XLen)
	done()
	if err != nil {
		return nil, err
	}

	if !l.Opt.TranslateInvokeCompiler {
		// Source was written (or embedded) but no dylib exists to load;
		// the caller asked only for code generation, spec.md §4.5's
		// emit-only mode.
		return nil, nil
	}

	loadMu.Lock()
	defer loadMu.Unlock()

	done = stage(l.Opt.TranslateTiming, "activate")
	act, err := Activate(seg, hash, path, mappings, apiTable, false)
	done()
	return act, err
}
