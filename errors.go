package watcher

import (
	"errors"
	"fmt"
)

// Sentinel errors for the synchronous API surface. These are distinct
// from the sentinel status Events emitted through the callback (see
// selfSentinel and sysSentinel). No function in this package returns
// them: Open always returns a nil error and Close reports its result as
// a bool.
var (
	ErrClosed           = errors.New("watcher: already closed")
	ErrNonExistentWatch = errors.New("watcher: can't remove non-existent watch")
	ErrEventOverflow    = errors.New("watcher: queue or buffer overflow, events were lost")
	ErrRootNotExist     = errors.New("watcher: root path does not exist")
)

// tag is one of the status-sentinel tags from spec §6/§8. severity is
// one of 's' (status), 'w' (warning, non-fatal), 'e' (error, fatal).
// effect is the sentinel's EffectType: spec.md §8 scenario 1/5 fix this
// as Create for "live", Destroy for "die", and Other for every other
// sys/self tag — it is not derived from severity or fatality.
type tag struct {
	severity byte
	name     string
	effect   EffectType
}

var (
	tagLive         = tag{'s', "live", Create}
	tagDie          = tag{'s', "die", Destroy}
	tagDieErr       = tag{'e', "die", Destroy}
	tagOverflow     = tag{'w', "overflow", Other}
	tagEventRecv    = tag{'e', "event_recv", Other}
	tagPathMap      = tag{'e', "path_map", Other}
	tagSysResource  = tag{'e', "sys_resource", Other}
	tagNoPath       = tag{'w', "no_path", Other}
	tagEventInfo    = tag{'w', "event_info", Other}
	tagNotWatched   = tag{'w', "not_watched", Other}
	tagEpollWait    = tag{'e', "epoll_wait", Other}
	tagEpollCtl     = tag{'e', "epoll_ctl", Other}
	tagEpollCreate  = tag{'e', "epoll_create", Other}
	tagInotifyInit  = tag{'e', "inotify_init", Other}
	tagFanotifyInit = tag{'e', "fanotify_init", Other}
	tagFanotifyMark = tag{'e', "fanotify_mark", Other}
	tagRead         = tag{'e', "read", Other}
	tagKernelVer    = tag{'e', "kernel_version", Other}
)

// sentinelLive and sentinelDie are the lifetime-protocol sentinels every
// adapter emits per spec §4.2/§6: exactly one live on start, exactly one
// die (clean or fatal) on return, on every platform.
func sentinelLive(root string) Event {
	return selfSentinel(tagLive, root, nil)
}

func sentinelDie(root string, fatal bool) Event {
	if fatal {
		return selfSentinel(tagDieErr, root, nil)
	}
	return selfSentinel(tagDie, root, nil)
}

// sysSentinel builds a "sys/<name>" tagged sentinel instead of "self/<name>".
func sysSentinel(t tag, detail string, errno error) Event {
	name := fmt.Sprintf("%c/sys/%s", t.severity, t.name)
	if detail != "" {
		name += "@" + detail
	}
	if errno != nil {
		name += fmt.Sprintf("(%s)", errno)
	}
	return Event{PathName: name, EffectType: t.effect, PathType: Watcher, EffectTime: nowNanos()}
}

// selfSentinel builds a "self/<name>" tagged sentinel, appending the errno
// string when available, per spec §6 ("Errors also append (<strerror>)").
func selfSentinel(t tag, detail string, errno error) Event {
	name := fmt.Sprintf("%c/self/%s", t.severity, t.name)
	if detail != "" {
		name += "@" + detail
	}
	if errno != nil {
		name += fmt.Sprintf("(%s)", errno)
	}
	return Event{PathName: name, EffectType: t.effect, PathType: Watcher, EffectTime: nowNanos()}
}
