//go:build !linux

package watcher

// selectAdapter implements the pure selection rule from spec §4.1 for
// every platform other than Linux: darwin gets FSEvents, windows gets
// RDCW, everything else (or a forced scan) gets the portable scan
// adapter. The Linux-specific fanotify/inotify/kernel-version/privilege
// logic lives in select_linux.go.
func selectAdapter(o Options) adapter {
	if o.forceScan {
		return newScanAdapter(o)
	}
	if a := platformAdapter(o); a != nil {
		return a
	}
	return newScanAdapter(o)
}
