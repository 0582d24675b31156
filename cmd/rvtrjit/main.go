// Command rvtrjit drives the execution-segment pipeline standalone: it
// loads a raw guest instruction blob, discovers its blocks, emits host
// C code for them, and optionally compiles and reports the resulting
// mapping table — useful for inspecting what the pipeline produces
// without embedding it in a full machine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/imbev/rvtrjit/internal/blockscan"
	"github.com/imbev/rvtrjit/internal/diag"
	"github.com/imbev/rvtrjit/internal/emit"
	"github.com/imbev/rvtrjit/internal/translate"
	"github.com/imbev/rvtrjit/log"
	"github.com/imbev/rvtrjit/segment"
)

var (
	version = "dev"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		fmt.Fprintf(os.Stderr, "rvtrjit: maxprocs: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:     "rvtrjit",
		Short:   "RISC-V execution-segment translation pipeline",
		Version: version,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(newEmitCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newEmitCmd() *cobra.Command {
	var (
		basePC     uint64
		entryPoint uint64
		compressed bool
		compile    bool
		cacheDir   string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "emit <raw-instructions-file>",
		Short: "Discover blocks in a raw instruction blob and emit host C code for them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetVerbose(verbose)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			// Build and predecode/fastsim the segment first, the way the
			// original always does before a translator ever sees a
			// segment's bytes (create_execute_segment ->
			// generate_decoder_cache), even though block discovery below
			// re-walks the raw bytes rather than the decoder table itself.
			if _, err := segment.New(basePC, data, compressed, 64); err != nil {
				return err
			}

			endPC := basePC + uint64(len(data))
			blocks := blockscan.Discover(blockscan.Options{
				Data:          data,
				BasePC:        basePC,
				EndPC:         endPC,
				SegmentBasePC: basePC,
				SegmentEndPC:  endPC,
				EntryPoint:    entryPoint,
				Compressed:    compressed,
			})

			emitOpt := emit.Options{
				XLen:       64,
				Compressed: compressed,
				ArenaMode:  emit.ArenaCallback,
			}

			sources := make(map[uint64]string, len(blocks))
			var allMappings []emit.Mapping
			for _, b := range blocks {
				src, mappings, err := emit.EmitBlock(b, emitOpt)
				if err != nil {
					return err
				}
				sources[b.BasePC] = src
				allMappings = append(allMappings, mappings...)
			}

			fmt.Printf("discovered %d block(s), %d mapping(s)\n", len(blocks), len(allMappings))

			if !compile {
				fmt.Println(translate.Source(sources, allMappings))
				return nil
			}

			opt := translate.NewOptions(
				translate.WithVerboseLoader(verbose),
				translate.WithCache(cacheDir != ""),
			)
			dir := cacheDir
			if dir == "" {
				dir = os.TempDir()
			}

			defines := translate.Defines(opt, emitOpt.XLen)
			hash, err := translate.HashSegment(data, defines)
			if err != nil {
				return err
			}

			src := translate.Source(sources, allMappings)
			path, err := translate.Compile(dir, hash, src, opt, emitOpt.XLen)
			if err != nil {
				return err
			}
			fmt.Printf("compiled %s (hash %08x)\n", path, hash)

			if verbose {
				if code, err := os.ReadFile(path); err == nil {
					fmt.Println(diag.Disassemble(code))
				}
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&basePC, "base-pc", 0, "guest address of the first byte in the input file")
	cmd.Flags().Uint64Var(&entryPoint, "entry", 0, "program entry point, included in the global jump set")
	cmd.Flags().BoolVar(&compressed, "compressed", false, "treat the input as RVC-enabled (2-byte stride)")
	cmd.Flags().BoolVar(&compile, "compile", false, "invoke the configured C compiler on the generated source")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for generated sources and compiled objects")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose loader logging and disassembly output")

	return cmd
}
