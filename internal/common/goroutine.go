package common

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine with panic recovery.
// Panics are logged with a stack trace and the process keeps running.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer RecoverPanic(logger, name)
		fn()
	}()
}

// RecoverPanic logs a recovered panic. It must be called directly by defer.
func RecoverPanic(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}
