//go:build unix

package translate

import (
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/imbev/rvtrjit/internal/abi"
	"github.com/imbev/rvtrjit/rverr"
)

// dlHandle wraps a purego library handle, the cgo-free POSIX dlopen
// counterpart to the original's direct dlopen/dlsym calls in
// tr_translate.cpp's DylibTranslation.
type dlHandle struct {
	lib uintptr
}

// cMapping mirrors the emitted `struct { addr_t addr; uint32_t index; }`
// mapping entry layout.
type cMapping struct {
	addr  uint64
	index uint32
	_pad  uint32
}

// dlopenLibrary loads path and reads its ABI surface: init, no_mappings,
// mappings, no_handlers, unique_mappings — exactly the five symbols
// spec.md §4.6 names. Missing required symbols fail the load outright.
func dlopenLibrary(path string) (*dlHandle, abi.Exports, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", err)
	}
	dl := &dlHandle{lib: lib}

	initFn, err := purego.Dlsym(lib, "init")
	if err != nil {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", err)
	}
	noMappingsPtr, err := purego.Dlsym(lib, "no_mappings")
	if err != nil {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", err)
	}
	mappingsPtr, err := purego.Dlsym(lib, "mappings")
	if err != nil {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", err)
	}
	noHandlersPtr, err := purego.Dlsym(lib, "no_handlers")
	if err != nil {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", err)
	}
	handlersPtr, err := purego.Dlsym(lib, "unique_mappings")
	if err != nil {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", err)
	}

	noMappings := *(*uint32)(unsafe.Pointer(noMappingsPtr))
	if uint64(noMappings) > abi.MaxMappings {
		return nil, abi.Exports{}, rverr.New(rverr.InvalidProgram, "translate.dlopenLibrary", nil)
	}
	noHandlers := *(*uint32)(unsafe.Pointer(noHandlersPtr))

	mappingArr := unsafe.Slice((*cMapping)(unsafe.Pointer(mappingsPtr)), int(noMappings))
	mappings := make([]abi.Mapping, noMappings)
	for i, m := range mappingArr {
		mappings[i] = abi.Mapping{Addr: m.addr, MappingIndex: m.index}
	}

	handlerArr := unsafe.Slice((*uintptr)(unsafe.Pointer(handlersPtr)), int(noHandlers))
	handlers := make([]abi.BintrFunc, noHandlers)
	for i := range handlerArr {
		fn := handlerArr[i]
		handlers[i] = func(cpu uintptr, counter, maxCounter, pc uint64) abi.ReturnValues {
			// Translated blocks return {counter,max_counter} packed into
			// two 64-bit registers on every platform purego targets; r1/r2
			// map directly onto that pair.
			r1, r2, _ := purego.SyscallN(fn, cpu, uintptr(counter), uintptr(maxCounter), uintptr(pc))
			return abi.ReturnValues{Counter: uint64(r1), MaxCounter: uint64(r2)}
		}
	}

	var initTrampoline func(table, arena uintptr)
	purego.RegisterFunc(&initTrampoline, initFn)

	exports := abi.Exports{
		Init:           initTrampoline,
		NoMappings:     noMappings,
		Mappings:       mappings,
		NoHandlers:     noHandlers,
		UniqueMappings: handlers,
	}
	return dl, exports, nil
}

func (d *dlHandle) Close() error {
	return purego.Dlclose(d.lib)
}
