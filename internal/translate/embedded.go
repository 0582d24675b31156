package translate

import (
	"sync"

	"github.com/imbev/rvtrjit/internal/abi"
	"github.com/imbev/rvtrjit/rverr"
)

// MaxEmbedded bounds the embedded-translation table the same way
// EmbeddedTranslations<W>'s fixed-size array does.
const MaxEmbedded = 12

// embeddedEntry is one pre-registered translation: its hash plus the
// mapping table and unique handler functions compiled into this binary
// alongside it. Unlike a dlopen'd translation, an embedded one shares
// the process's single CallbackTable directly (it was built against the
// same `api` global the rest of the binary links against), so there is
// no per-entry init pointer to carry.
type embeddedEntry struct {
	hash     uint32
	mappings []abi.Mapping
	handlers []abi.BintrFunc
}

var (
	embeddedMu    sync.Mutex
	embeddedTable []embeddedEntry
)

// RegisterEmbedded registers a translation compiled into the binary
// ahead of time, the Go analog of the original's C++ global
// constructor: rather than running at package-init time implicitly (Go
// has no constructor-ordering guarantee across packages worth relying
// on for this), callers invoke it explicitly from their own init(), the
// same place the embeddable-source sink's generated companion file
// would call it (SUPPLEMENTED FEATURES item 4).
func RegisterEmbedded(hash uint32, mappings []abi.Mapping, handlers []abi.BintrFunc) error {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	if len(embeddedTable) >= MaxEmbedded {
		return rverr.New(rverr.InvalidProgram, "translate.RegisterEmbedded", nil)
	}
	embeddedTable = append(embeddedTable, embeddedEntry{
		hash:     hash,
		mappings: mappings,
		handlers: handlers,
	})
	return nil
}

// lookupEmbedded returns the registered entry for hash, if any.
func lookupEmbedded(hash uint32) (embeddedEntry, bool) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	for _, e := range embeddedTable {
		if e.hash == hash {
			return e, true
		}
	}
	return embeddedEntry{}, false
}

// ResetEmbeddedForTest clears the embedded-translation table; exported
// only for test isolation between test cases that register translations.
func ResetEmbeddedForTest() {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	embeddedTable = nil
}
