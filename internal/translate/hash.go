package translate

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"

	"github.com/imbev/rvtrjit/rverr"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Defines returns the normalized set of compile-time defines that
// affect code generation for a given Options + XLEN combination, as a
// KEY -> VALUE map; definesToString renders it as the sorted,
// deterministic "-DKEY=VALUE" sequence so the hash is reproducible.
func Defines(opt Options, xlen int) map[string]string {
	defines := make(map[string]string)
	defines["RISCV_TRANSLATION_DYLIB"] = fmt.Sprintf("%d", xlen/8)
	if opt.Compressed {
		defines["RISCV_EXT_C"] = "1"
	}
	if opt.Float {
		defines["RISCV_EXT_F"] = "1"
	}
	if opt.Double {
		defines["RISCV_EXT_D"] = "1"
	}
	if opt.Vector {
		defines["RISCV_EXT_VECTOR"] = "1"
	}
	if opt.Atomic {
		defines["RISCV_EXT_A"] = "1"
	}
	if opt.TranslateTrace {
		// Changes the hash on purpose: toggling tracing must force a
		// recompile, never reuse of an untraced translation.
		defines["RISCV_TRACING"] = "1"
	}
	if opt.TranslateIgnoreInstructionLimit {
		defines["RISCV_IGNORE_INSTRUCTION_LIMIT"] = "1"
	}
	if opt.EncompassingArenaBits > 0 {
		defines["RISCV_NBIT_UNBOUNDED"] = fmt.Sprintf("%d", opt.EncompassingArenaBits)
	}
	return defines
}

// definesToString renders defines in sorted-key order so the resulting
// checksum is deterministic regardless of map iteration order.
func definesToString(defines map[string]string) string {
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" -D")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(defines[k])
	}
	return b.String()
}

// HashSegment computes the CRC32C hash of the segment bytes, combined
// (CRC32C continuation) with the normalized defines string — spec.md
// §4.6's hashing rule. A zero result is rejected with an InvalidProgram
// error since the zero hash is reserved to mean "invalid."
func HashSegment(data []byte, defines map[string]string) (uint32, error) {
	if len(data) == 0 {
		return 0, rverr.New(rverr.InvalidProgram, "translate.HashSegment", nil)
	}
	checksum := crc32.Checksum(data, castagnoli)
	flags := definesToString(defines)
	// Continuation: crc32.Update takes a finished checksum and handles
	// the pre/post complement itself (Go's form of the
	// "~crc32c(~checksum, ...)" idiom tr_translate.cpp uses), so
	// appending the flag string behaves as one continuous checksum.
	checksum = crc32.Update(checksum, castagnoli, []byte(flags))
	if checksum == 0 {
		return 0, rverr.New(rverr.InvalidProgram, "translate.HashSegment", nil)
	}
	return checksum, nil
}

// Filename renders the cache filename for a hash the way
// MachineOptions<W>::translation_filename does: prefix + 08X hash +
// suffix.
func Filename(prefix string, hash uint32, suffix string) string {
	return fmt.Sprintf("%s%08X%s", prefix, hash, suffix)
}
