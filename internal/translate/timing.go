package translate

import (
	"time"

	"github.com/imbev/rvtrjit/log"
)

var timingLog = log.Logger("translate.timing")

// stage starts a timer for a named pipeline phase (hash, compile,
// activate, ...) and returns a function that logs its elapsed duration
// at debug level when enabled is set, mirroring the coarse stage timers
// tr_translate.cpp prints under RISCV_TRANSLATION_TIMING.
func stage(enabled bool, name string) func() {
	if !enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		timingLog.Debug("stage complete", "stage", name, "elapsed", time.Since(start))
	}
}
