package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountInstructionsRecognizesSimpleSequence(t *testing.T) {
	// push rbp; mov rbp, rsp; ret
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0xC3}
	assert.Equal(t, 3, CountInstructions(code))
}

func TestDisassembleListsOffsetsAndFallsBackOnJunk(t *testing.T) {
	code := []byte{0x55, 0xC3, 0xFF} // push rbp; ret; then one undecodable/truncated byte
	out := Disassemble(code)
	assert.Contains(t, out, "0x0000:")
	assert.Contains(t, out, "0x0001:")
	assert.Contains(t, out, "0x0002: db 0xff")
}

func TestCountInstructionsEmpty(t *testing.T) {
	assert.Equal(t, 0, CountInstructions(nil))
}
