//go:build linux

package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const inotifyAgnosticEvents = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_DELETE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF

type inotifyAdapter struct {
	bufSize uint
}

func newInotifyAdapter(o Options) adapter { return &inotifyAdapter{bufSize: o.bufferSize} }

// inotifyWorker holds state owned exclusively by this adapter's worker
// goroutine, per spec §3's "no cross-thread mutation" invariant.
type inotifyWorker struct {
	fd     int
	epfd   int
	paths  map[int]string // watch descriptor -> directory path
	mu     sync.Mutex     // guards paths against reentrant Add during walk
	root   string
	bufLen int
}

func (a *inotifyAdapter) run(root string, emit Callback, living func() bool) bool {
	emit(sentinelLive(root))

	fd, errno := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if errno != nil {
		emit(selfSentinel(tagSysResource, root, errno))
		emit(sentinelDie(root, true))
		return false
	}
	defer unix.Close(fd)

	epfd, errno := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if errno != nil {
		emit(sysSentinel(tagEpollCreate, root, errno))
		emit(sentinelDie(root, true))
		return false
	}
	defer unix.Close(epfd)

	if err := epollAdd(epfd, fd); err != nil {
		emit(sysSentinel(tagEpollCtl, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	w := &inotifyWorker{fd: fd, epfd: epfd, paths: make(map[int]string), root: root, bufLen: int(a.bufSize)}
	if w.bufLen < unix.SizeofInotifyEvent*64 {
		w.bufLen = unix.SizeofInotifyEvent * 4096
	}

	info, err := os.Lstat(root)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	if info.IsDir() {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsPermission(err) {
					emit(sysSentinel(tagNotWatched, path, err))
					return nil
				}
				return err
			}
			if d.IsDir() {
				if addErr := w.addWatch(path); addErr != nil {
					emit(sysSentinel(tagNotWatched, path, addErr))
				}
			}
			return nil
		})
	} else {
		if err := w.addWatch(root); err != nil {
			emit(selfSentinel(tagSysResource, root, err))
			emit(sentinelDie(root, true))
			return false
		}
	}

	ok := w.loop(emit, living)
	emit(sentinelDie(root, !ok))
	return ok
}

func (w *inotifyWorker) addWatch(path string) error {
	wd, err := unix.InotifyAddWatch(w.fd, path, inotifyAgnosticEvents)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.paths[wd] = path
	w.mu.Unlock()
	return nil
}

func (w *inotifyWorker) removeWatch(wd int) {
	unix.InotifyRmWatch(w.fd, uint32(wd))
	w.mu.Lock()
	delete(w.paths, wd)
	w.mu.Unlock()
}

func (w *inotifyWorker) loop(emit Callback, living func() bool) bool {
	events := make([]unix.EpollEvent, 8)
	buf := make([]byte, w.bufLen)

	for living() {
		n, err := unix.EpollWait(w.epfd, events, 16)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			emit(sysSentinel(tagEpollWait, w.root, err))
			return false
		}
		if n == 0 {
			continue
		}

		if !w.readReady(buf, emit) {
			return false
		}
	}
	return true
}

// readReady drains the inotify fd until EAGAIN, translating each raw
// event into an Event and emitting it, maintaining the watch-descriptor
// map under live subdirectory creation/destruction per spec §4.4.
func (w *inotifyWorker) readReady(buf []byte, emit Callback) bool {
	for {
		n, errno := unix.Read(w.fd, buf)
		if errno == unix.EAGAIN {
			return true
		}
		if errno == unix.EINTR {
			continue
		}
		if errno != nil {
			emit(sysSentinel(tagRead, w.root, errno))
			return false
		}
		if n == 0 {
			return true
		}
		if n < unix.SizeofInotifyEvent {
			emit(selfSentinel(tagEventRecv, w.root, nil))
			return false
		}

		var offset uint32
		for offset <= uint32(n)-unix.SizeofInotifyEvent {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			mask := uint32(raw.Mask)
			nameLen := uint32(raw.Len)

			if mask&unix.IN_Q_OVERFLOW != 0 {
				emit(selfSentinel(tagOverflow, w.root, nil))
			}

			w.mu.Lock()
			dir := w.paths[int(raw.Wd)]
			w.mu.Unlock()

			name := dir
			if nameLen > 0 {
				nameBytes := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
				name = filepath.Join(dir, strings.TrimRight(string(nameBytes), "\x00"))
			}

			offset += unix.SizeofInotifyEvent + nameLen

			if mask&unix.IN_IGNORED != 0 {
				continue
			}

			kind := File
			if mask&unix.IN_ISDIR != 0 {
				kind = Dir
			}

			switch {
			case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
				emit(newEvent(name, Create, kind))
				if kind == Dir {
					if err := w.addWatch(name); err != nil {
						emit(sysSentinel(tagNotWatched, name, err))
					}
				}
			case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0:
				emit(newEvent(name, Destroy, kind))
				if name == w.root {
					return false
				}
			case mask&unix.IN_MOVE_SELF != 0:
				if name == w.root {
					emit(newEvent(name, Destroy, kind))
					return false
				}
			case mask&unix.IN_MOVED_FROM != 0:
				emit(newEvent(name, Rename, kind))
			case mask&unix.IN_MODIFY != 0:
				emit(newEvent(name, Modify, kind))
			}
		}
	}
}
