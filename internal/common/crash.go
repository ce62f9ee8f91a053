package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// CrashLogDir is where crash reports are written
var CrashLogDir = "./logs"

// RecoverWithCrashFile writes a crash report for a panic on the calling
// goroutine and exits. Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	r := recover()
	if r == nil {
		return
	}
	path := WriteCrashFile(r, stack(false))
	fmt.Fprintf(os.Stderr, "\nFATAL: %v\ncrash report: %s\n", r, path)
	os.Exit(1)
}

// WriteCrashFile writes the panic value, its stack and every goroutine's
// stack to a timestamped file and returns its path, or "" when the report
// could only go to stderr
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CourseForge %s crashed at %s\n\n", GetFullVersion(), time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "panic: %v\n\n%s\n", panicVal, stackTrace)
	fmt.Fprintf(&b, "goroutines: %d  GOOS=%s GOARCH=%s\n\n", runtime.NumGoroutine(), runtime.GOOS, runtime.GOARCH)
	b.WriteString(stack(true))

	if err := os.MkdirAll(CrashLogDir, 0755); err == nil {
		path := filepath.Join(CrashLogDir, "crash-"+time.Now().Format("2006-01-02T15-04-05")+".log")
		if err := os.WriteFile(path, []byte(b.String()), 0644); err == nil {
			return path
		}
	}

	fmt.Fprint(os.Stderr, b.String())
	return ""
}

// stack returns the current goroutine's stack, or all of them, growing the
// buffer up to 64MB
func stack(all bool) string {
	buf := make([]byte, 8192)
	for {
		n := runtime.Stack(buf, all)
		if n < len(buf) || len(buf) >= 64<<20 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}
