// Package diag provides diagnostic disassembly of compiled translation
// output, for tests and --verbose-loader tracing that want to see what
// a cross-compile actually produced.
package diag

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code as an x86-64 instruction listing, one line
// per decoded instruction with its offset and raw bytes; an undecodable
// byte is emitted as a `db` pseudo-op and skipped, the same fallback the
// jam-duna recompiler's own Disassemble helper uses.
func Disassemble(code []byte) string {
	var sb strings.Builder
	offset := 0

	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			fmt.Fprintf(&sb, "0x%04x: db 0x%02x\n", offset, code[offset])
			offset++
			continue
		}

		hexBytes := make([]string, inst.Len)
		for i := 0; i < inst.Len; i++ {
			hexBytes[i] = fmt.Sprintf("%02x", code[offset+i])
		}
		fmt.Fprintf(&sb, "0x%04x: %-24s %s\n", offset, strings.Join(hexBytes, " "), inst.String())

		offset += inst.Len
	}

	return sb.String()
}

// CountInstructions reports how many instructions Decode was able to
// recognize in code, skipping undecodable bytes one at a time — used by
// tests to sanity-check that a compiled block isn't mostly `db` filler.
func CountInstructions(code []byte) int {
	offset := 0
	count := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			offset++
			continue
		}
		count++
		offset += inst.Len
	}
	return count
}
