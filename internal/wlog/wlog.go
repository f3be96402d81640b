// Package wlog is the module's structured event logger: a single,
// OS-agnostic JSON-line writer gated by the WATCHER_DEBUG environment
// variable, generalized from the teacher's per-OS raw-flag dumpers
// (internal/debug_linux.go, internal/debug_windows.go, and the BSD/
// Solaris/macOS variants the teacher carried one file per backend).
// Where those dumped a raw platform bitmask against a name table before
// any decoding happened, wlog operates once, uniformly, on the already-
// decoded event every adapter produces.
package wlog

import (
	"fmt"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	enabled = os.Getenv("WATCHER_DEBUG") != ""
	out     = os.Stderr
)

// Loggable is the minimal shape wlog needs from an event: a JSON
// encoder and a human-readable string form. The watcher package's Event
// satisfies this without wlog importing it, avoiding an import cycle.
type Loggable interface {
	JSON() string
	String() string
}

// Enabled reports whether WATCHER_DEBUG was set at process start.
func Enabled() bool { return enabled }

// Line writes one event as a JSON line to stderr, guarded by a mutex
// the same way the teacher's debug dumpers serialize through a single
// fmt.Fprintf(os.Stderr, ...) call.
func Line(e Loggable) {
	if !enabled {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(out, e.JSON())
}

// SetOutput redirects log lines, used by tests to capture output
// without touching the process's real stderr.
func SetOutput(f *os.File) {
	mu.Lock()
	defer mu.Unlock()
	out = f
}
