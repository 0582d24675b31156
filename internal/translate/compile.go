package translate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/imbev/rvtrjit/internal/cache"
	"github.com/imbev/rvtrjit/internal/emit"
	"github.com/imbev/rvtrjit/rverr"
)

// compileGroup deduplicates concurrent compiles that land on the same
// hash: two machines hitting the same segment at the same time should
// compile it once, the Go analog of the mutex libriscv takes around its
// own cc invocation in tr_translate.cpp.
var compileGroup singleflight.Group

// Source is the full translation-unit text for one segment: the shared
// preamble, every block function EmitBlock produced for it in address
// order, then the footer declaring the dylib's mapping table —
// mappings[]/no_mappings/unique_mappings[]/no_handlers, the symbols
// dlopenLibrary resolves after compiling this exact source (spec.md
// §4.6's "Dynamic path").
func Source(blocks map[uint64]string, mappings []emit.Mapping) string {
	keys := make([]uint64, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	src := emit.Preamble + "\n" + emit.VisibleMacro + "\n"
	for _, k := range keys {
		src += blocks[k]
		src += "\n"
	}
	src += footer(mappings)
	return src
}

// footer renders the VISIBLE mapping-table symbols every generated
// translation unit exports, following tr_translate.cpp's footer
// construction: one Mapping{addr, mapping_index} per block entry point,
// deduplicated by symbol into unique_mappings[] so two PCs that share a
// block (direct tail calls) resolve to the same function pointer.
func footer(mappings []emit.Mapping) string {
	sorted := make([]emit.Mapping, len(mappings))
	copy(sorted, mappings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

	indices := make(map[string]int, len(sorted))
	var handlers []string

	var rows string
	for _, m := range sorted {
		idx, ok := indices[m.Symbol]
		if !ok {
			idx = len(handlers)
			indices[m.Symbol] = idx
			handlers = append(handlers, m.Symbol)
		}
		rows += fmt.Sprintf("{0x%xULL, %d},\n", m.Addr, idx)
	}

	var out string
	out += fmt.Sprintf("VISIBLE const uint32_t no_mappings = %d;\n", len(sorted))
	out += "struct Mapping {\n\taddr_t addr;\n\tunsigned mapping_index;\n};\n"
	out += "VISIBLE const struct Mapping mappings[] = {\n" + rows + "};\n"
	out += fmt.Sprintf("VISIBLE const uint32_t no_handlers = %d;\n", len(handlers))
	out += "VISIBLE const void* unique_mappings[] = {\n"
	for _, h := range handlers {
		out += "\t(void*)" + h + ",\n"
	}
	out += "};\n"
	return out
}

// compileArgs renders opt's defines as "-DKEY=VALUE" flags, sorted for
// reproducibility, plus the flags every generated translation unit needs
// regardless of target: position-independent shared-library output.
func compileArgs(opt Options, xlen int, srcPath, outPath string) []string {
	defines := Defines(opt, xlen)
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"-shared", "-fPIC", "-O2", "-o", outPath, srcPath}
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-D%s=%s", k, defines[k]))
	}
	return args
}

// Compile writes src to a scratch file under dir and invokes the
// configured C compiler to produce a shared library at outPath,
// deduplicating concurrent calls for the same hash via singleflight.
// It returns the path to the produced .so.
func Compile(dir string, hash uint32, src string, opt Options, xlen int) (string, error) {
	key := fmt.Sprintf("%08x", hash)
	v, err, _ := compileGroup.Do(key, func() (any, error) {
		return compileOnce(dir, hash, src, opt, xlen)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func compileOnce(dir string, hash uint32, src string, opt Options, xlen int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", rverr.New(rverr.InvalidProgram, "translate.Compile", err)
	}

	disambig := uuid.NewString()[:8]
	srcPath := filepath.Join(dir, fmt.Sprintf("rvtrjit-%08x-%s.c", hash, disambig))
	outPath := filepath.Join(dir, Filename(opt.TranslationPrefix, hash, opt.TranslationSuffix))

	if opt.TranslationCache {
		if _, err := os.Stat(outPath); err == nil {
			return outPath, nil
		}
	} else {
		outPath = filepath.Join(dir, fmt.Sprintf("%s%08x-%s%s", opt.TranslationPrefix, hash, disambig, opt.TranslationSuffix))
	}

	if err := os.WriteFile(srcPath, []byte(src), 0o644); err != nil {
		return "", rverr.New(rverr.InvalidProgram, "translate.Compile", err)
	}
	if !opt.TranslationCache {
		defer os.Remove(srcPath)
	}

	cc := opt.CCompiler
	if cc == "" {
		cc = "cc"
	}

	run := func(compiler string, args []string) error {
		cmd := exec.Command(compiler, args...)
		out, runErr := cmd.CombinedOutput()
		if runErr != nil {
			return rverr.New(rverr.InvalidProgram, "translate.Compile", fmt.Errorf("%s: %w: %s", compiler, runErr, out))
		}
		return nil
	}

	if !opt.TranslateInvokeCompiler {
		return outPath, nil
	}

	if err := run(cc, compileArgs(opt, xlen, srcPath, outPath)); err != nil {
		return "", err
	}

	for _, target := range opt.CrossCompile {
		if target.IsEmbed {
			if err := writeEmbeddable(dir, hash, disambig, src, target, opt.CompressCache); err != nil {
				return "", err
			}
			continue
		}
		crossOut := filepath.Join(dir, fmt.Sprintf("%s%08x%s", target.Prefix, hash, target.Suffix))
		if err := run(target.CrossCompiler, compileArgs(opt, xlen, srcPath, crossOut)); err != nil {
			return "", err
		}
	}

	return outPath, nil
}

// writeEmbeddable writes src under an embeddable-source sink's naming
// scheme instead of invoking a compiler at all — the companion to
// RegisterEmbedded, letting a later build re-embed this translation as
// a compiled-in entry (SUPPLEMENTED FEATURES item 4). These sinks are
// meant for longer-term storage than the scratch .c fed to cc, so
// compress is honored here even though the scratch source never is.
func writeEmbeddable(dir string, hash uint32, disambig, src string, target CrossTarget, compress bool) error {
	path := filepath.Join(dir, fmt.Sprintf("%s%08x-%s%s", target.EmbedPrefix, hash, disambig, target.EmbedSuffix))
	if compress {
		return cache.WriteCompressed(path+".zst", []byte(src))
	}
	return os.WriteFile(path, []byte(src), 0o644)
}
