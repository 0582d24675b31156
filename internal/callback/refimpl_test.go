package callback

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferenceMemRoundTrip(t *testing.T) {
	ref := NewReference(64)
	tbl := ref.Table()

	tbl.MemStore(nil, 8, 0x1122334455667788, 8)
	assert.Equal(t, uint64(0x1122334455667788), tbl.MemLoad(nil, 8, 8))

	tbl.MemStore(nil, 0, 0xAB, 1)
	assert.Equal(t, uint64(0xAB), tbl.MemLoad(nil, 0, 1))

	tbl.MemStore(nil, 2, 0xBEEF, 2)
	assert.Equal(t, uint64(0xBEEF), tbl.MemLoad(nil, 2, 2))
}

func TestReferenceMemOutOfBoundsIsIgnored(t *testing.T) {
	ref := NewReference(4)
	tbl := ref.Table()

	tbl.MemStore(nil, 2, 0xFFFFFFFF, 8) // would overflow a 4-byte arena
	assert.Equal(t, uint64(0), tbl.MemLoad(nil, 100, 8))
}

func TestReferenceBitHelpers(t *testing.T) {
	ref := NewReference(1)
	tbl := ref.Table()
	assert.Equal(t, 28, tbl.Clz(0xF))
	assert.Equal(t, 32, tbl.Ctz(0x0))
	assert.Equal(t, 4, tbl.Cpop(0xF0))
	assert.InEpsilon(t, 3.0, tbl.Sqrtf64(9.0), 1e-9)
}

func TestFPRegF64RoundTrip(t *testing.T) {
	var f FPReg
	f.SetF64(math.Pi)
	assert.Equal(t, math.Pi, f.F64())
}
