//go:build linux

package watcher

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	fanotifyMarkMask = unix.FAN_ONDIR | unix.FAN_CREATE | unix.FAN_MODIFY | unix.FAN_DELETE |
		unix.FAN_MOVE | unix.FAN_DELETE_SELF | unix.FAN_MOVE_SELF

	fanotifyInitFlags  = unix.FAN_CLASS_NOTIF | unix.FAN_REPORT_DFID_NAME | unix.FAN_UNLIMITED_QUEUE | unix.FAN_UNLIMITED_MARKS
	fanotifyEventFlags = unix.O_RDONLY | unix.O_LARGEFILE | unix.O_CLOEXEC | unix.O_NONBLOCK
)

// fanotifyEventInfoHeader and fanotifyFSID mirror the header and fsid
// fields of the kernel's struct fanotify_event_info_fid;
// golang.org/x/sys/unix does not define these, so they're declared here
// exactly as the teacher's backend_fanotify_event.go does.
type fanotifyEventInfoHeader struct {
	InfoType uint8
	pad      uint8
	Len      uint16
}

type fanotifyFSID struct {
	val [2]int32
}

type fanotifyAdapter struct {
	bufSize uint
}

func newFanotifyAdapter(o Options) adapter { return &fanotifyAdapter{bufSize: o.bufferSize} }

// fanotifyMarkTree recursively marks every directory under root, per
// spec §4.3's "recursively walks the root (following symlinks,
// skipping permission-denied entries)". os.Stat follows symlinks, so
// a symlinked subdirectory is descended into like any other; the
// dev/ino set guards against symlink cycles re-visiting a directory.
func fanotifyMarkTree(fd int, root string, emit Callback) {
	visited := make(map[[2]uint64]struct{})
	var walk func(path string)
	walk = func(path string) {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsPermission(err) {
				emit(sysSentinel(tagNotWatched, path, err))
			}
			return
		}
		if !info.IsDir() {
			return
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			key := [2]uint64{uint64(st.Dev), st.Ino}
			if _, seen := visited[key]; seen {
				return
			}
			visited[key] = struct{}{}
		}
		if path != root {
			if markErr := unix.FanotifyMark(fd, unix.FAN_MARK_ADD, fanotifyMarkMask, unix.AT_FDCWD, path); markErr != nil {
				emit(sysSentinel(tagNotWatched, path, markErr))
			}
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsPermission(err) {
				emit(sysSentinel(tagNotWatched, path, err))
			}
			return
		}
		for _, e := range entries {
			walk(filepath.Join(path, e.Name()))
		}
	}
	walk(root)
}

// fanotifyWorker holds one run's fanotify state. dirCache maps a
// directory handle's own byte string to its resolved path (see
// DESIGN.md's open question #2), so two handles share an entry only
// when their handle bytes are identical.
type fanotifyWorker struct {
	fd       int
	epfd     int
	mountFd  int
	root     string
	bufLen   int
	dirCache map[string]string // file-handle bytes -> resolved parent directory path
	mu       sync.Mutex
}

func (a *fanotifyAdapter) run(root string, emit Callback, living func() bool) bool {
	emit(sentinelLive(root))

	fd, errno := unix.FanotifyInit(fanotifyInitFlags, fanotifyEventFlags)
	if errno != nil {
		emit(sysSentinel(tagFanotifyInit, root, errno))
		emit(sentinelDie(root, true))
		return false
	}
	defer unix.Close(fd)

	mountFd, err := unix.Open(root, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}
	defer unix.Close(mountFd)

	w := &fanotifyWorker{fd: fd, root: root, mountFd: mountFd, dirCache: make(map[string]string), bufLen: int(a.bufSize)}
	if w.bufLen < unix.FanotifyEventMetadataLen*64 {
		w.bufLen = unix.FanotifyEventMetadataLen * 4096
	}

	if err := unix.FanotifyMark(fd, unix.FAN_MARK_ADD, fanotifyMarkMask, unix.AT_FDCWD, root); err != nil {
		emit(sysSentinel(tagFanotifyMark, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	info, err := os.Lstat(root)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}
	if info.IsDir() {
		fanotifyMarkTree(fd, root, emit)
	}

	epfd, errno := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if errno != nil {
		emit(sysSentinel(tagEpollCreate, root, errno))
		emit(sentinelDie(root, true))
		return false
	}
	defer unix.Close(epfd)
	w.epfd = epfd

	if err := epollAdd(epfd, fd); err != nil {
		emit(sysSentinel(tagEpollCtl, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	ok := w.loop(emit, living)
	emit(sentinelDie(root, !ok))
	return ok
}

func (w *fanotifyWorker) loop(emit Callback, living func() bool) bool {
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

func (w *fanotifyWorker) readReady(buf []byte, emit Callback) bool {
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
		if n == 0 || n < unix.FanotifyEventMetadataLen {
			emit(selfSentinel(tagEventRecv, w.root, nil))
			return false
		}

		var offset uint32
		for offset <= uint32(n)-unix.FanotifyEventMetadataLen {
			meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[offset]))
			if meta.Event_len < unix.FanotifyEventMetadataLen || uint32(meta.Event_len) > uint32(n)-offset {
				break
			}

			if meta.Mask&unix.FAN_Q_OVERFLOW != 0 {
				emit(selfSentinel(tagOverflow, w.root, nil))
				offset += uint32(meta.Event_len)
				continue
			}
			if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
				emit(selfSentinel(tagEventInfo, w.root, nil))
				offset += uint32(meta.Event_len)
				continue
			}

			if !w.decodeOne(buf, offset, meta, emit) {
				return false
			}
			offset += uint32(meta.Event_len)
		}
	}
}

// decodeOne resolves one fanotify_event_metadata + fanotify_event_info_fid
// (DFID_NAME) record into a path and emits the corresponding Event, per
// spec §4.3's steps 1-6. It returns false only when the root itself was
// just reported destroyed or moved away (spec §9's root-deletion
// policy: terminate), true otherwise — including for ordinary,
// successfully-decoded events.
func (w *fanotifyWorker) decodeOne(buf []byte, offset uint32, meta *unix.FanotifyEventMetadata, emit Callback) bool {
	infoOff := offset + uint32(meta.Metadata_len)
	if infoOff+8 > uint32(len(buf)) {
		emit(selfSentinel(tagEventInfo, w.root, nil))
		return true
	}
	hdr := (*fanotifyEventInfoHeader)(unsafe.Pointer(&buf[infoOff]))
	if hdr.InfoType != unix.FAN_EVENT_INFO_TYPE_DFID_NAME {
		emit(selfSentinel(tagEventInfo, w.root, nil))
		return true
	}

	fh, name, err := decodeFileHandleWithName(buf, infoOff)
	if err != nil {
		emit(selfSentinel(tagNoPath, w.root, err))
		return true
	}

	dir, err := w.resolveDir(fh)
	if err != nil {
		emit(selfSentinel(tagNoPath, name, err))
		return true
	}

	path := filepath.Join(dir, name)
	mask := meta.Mask
	kind := File
	if mask&unix.FAN_ONDIR != 0 {
		kind = Dir
		mask ^= unix.FAN_ONDIR
	}

	selfEvent := mask&(unix.FAN_DELETE_SELF|unix.FAN_MOVE_SELF) != 0

	var effect EffectType
	switch {
	case mask&unix.FAN_CREATE != 0:
		effect = Create
	case mask&unix.FAN_DELETE != 0:
		effect = Destroy
	case mask&unix.FAN_MODIFY != 0:
		effect = Modify
	case mask&unix.FAN_MOVE != 0:
		effect = Rename
	case mask&unix.FAN_MOVE_SELF != 0:
		effect = Rename
	case mask&unix.FAN_DELETE_SELF != 0:
		effect = Destroy
	default:
		effect = Other
	}

	emit(newEvent(path, effect, kind))

	if kind == Dir {
		switch effect {
		case Create:
			if markErr := unix.FanotifyMark(w.fd, unix.FAN_MARK_ADD, fanotifyMarkMask, unix.AT_FDCWD, path); markErr != nil {
				emit(sysSentinel(tagNotWatched, path, markErr))
			}
		case Destroy:
			unix.FanotifyMark(w.fd, unix.FAN_MARK_REMOVE, fanotifyMarkMask, unix.AT_FDCWD, path)
			w.mu.Lock()
			delete(w.dirCache, string(fh.Bytes()))
			w.mu.Unlock()
		}
	}

	if selfEvent && filepath.Clean(path) == filepath.Clean(w.root) {
		return false
	}
	return true
}

// resolveDir resolves a directory file handle to its path, caching on
// the handle's own byte string (see DESIGN.md open question #2) and
// falling back to open_by_handle_at + /proc/self/fd readlink on a miss.
func (w *fanotifyWorker) resolveDir(fh *unix.FileHandle) (string, error) {
	key := string(fh.Bytes())

	w.mu.Lock()
	if p, ok := w.dirCache[key]; ok {
		w.mu.Unlock()
		return p, nil
	}
	w.mu.Unlock()

	fd, err := unix.OpenByHandleAt(w.mountFd, *fh, unix.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)

	path, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.dirCache[key] = path
	w.mu.Unlock()
	return path, nil
}

// decodeFileHandleWithName parses the fanotify_event_info_fid record
// starting at infoOff: header, fsid, a variable-length file handle, and
// (for DFID_NAME) a NUL-terminated child name immediately following it.
// Grounded on the teacher's getFileHandleWithName in
// backend_fanotify_event.go.
func decodeFileHandleWithName(buf []byte, infoOff uint32) (*unix.FileHandle, string, error) {
	hdrLen := uint32(unsafe.Sizeof(fanotifyEventInfoHeader{}))
	fsidLen := uint32(unsafe.Sizeof(fanotifyFSID{}))

	j := infoOff + hdrLen + fsidLen
	if j+8 > uint32(len(buf)) {
		return nil, "", fmt.Errorf("fanotify: truncated file handle")
	}

	var fhSize uint32
	var fhType int32
	binary.Read(bytes.NewReader(buf[j:j+4]), binary.LittleEndian, &fhSize)
	j += 4
	binary.Read(bytes.NewReader(buf[j:j+4]), binary.LittleEndian, &fhType)
	j += 4

	if j+fhSize > uint32(len(buf)) {
		return nil, "", fmt.Errorf("fanotify: truncated file handle bytes")
	}
	handle := unix.NewFileHandle(fhType, buf[j:j+fhSize])
	j += fhSize

	var nameBuf bytes.Buffer
	for ; j < uint32(len(buf)) && buf[j] != 0; j++ {
		nameBuf.WriteByte(buf[j])
	}

	return &handle, nameBuf.String(), nil
}
