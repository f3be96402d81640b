//go:build linux

package watcher

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/e-dant/watcher-go/internal/caps"
)

// selectAdapter implements spec §4.1's platform-selection rule for
// Linux: kernel >= 5.9, effective UID 0, and not Android picks fanotify;
// otherwise inotify; the WithForceScan option always wins. The rule is
// pure — the same (kernel, uid, GOOS) always yields the same adapter.
func selectAdapter(o Options) adapter {
	if o.forceScan {
		return newScanAdapter(o)
	}

	isAndroid := runtime.GOOS == "android"
	ver, err := currentKernelVersion()
	hasModernKernel := err == nil && ver.atLeast(5, 9)
	isRoot := unix.Geteuid() == 0

	if hasModernKernel && isRoot && !isAndroid {
		return newFanotifyAdapter(o)
	}
	return newInotifyAdapter(o)
}

// HasSysAdminCapability reports whether the current process holds
// CAP_SYS_ADMIN via the gocapability probe. selectAdapter does not
// consult capabilities: it picks fanotify only for effective uid 0, so a
// non-root binary holding CAP_SYS_ADMIN still gets inotify, and there is
// no option that forces fanotify.
func HasSysAdminCapability() (bool, error) {
	return caps.HasSysAdmin()
}
