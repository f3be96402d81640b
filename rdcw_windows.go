//go:build windows

package watcher

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

const rdcwChangeFilter = windows.FILE_NOTIFY_CHANGE_SECURITY |
	windows.FILE_NOTIFY_CHANGE_CREATION |
	windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
	windows.FILE_NOTIFY_CHANGE_SIZE |
	windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
	windows.FILE_NOTIFY_CHANGE_DIR_NAME |
	windows.FILE_NOTIFY_CHANGE_FILE_NAME

type rdcwAdapter struct {
	bufSize uint32
}

func newRDCWAdapter(o Options) adapter {
	n := uint32(o.bufferSize)
	if n < 4096 {
		n = 64 * 1024
	}
	return &rdcwAdapter{bufSize: n}
}

// rdcwWorker owns the directory handle, IOCP, and overlapped buffer for
// one root, per spec §3's RDCW per-adapter state list. pendingOld and
// pendingNew implement the rename-pair reconstruction described in
// spec §4.6.
type rdcwWorker struct {
	root       string
	handle     windows.Handle
	port       windows.Handle
	ov         windows.Overlapped
	buf        []byte
	pendingOld string
	pendingNew string
}

func (a *rdcwAdapter) run(root string, emit Callback, living func() bool) bool {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	emit(sentinelLive(root))

	pathPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	handle, err := windows.CreateFile(pathPtr,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}
	defer windows.CloseHandle(handle)

	port, err := windows.CreateIoCompletionPort(handle, 0, 0, 0)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}
	defer windows.CloseHandle(port)

	w := &rdcwWorker{root: root, handle: handle, port: port, buf: make([]byte, a.bufSize)}

	if err := w.issueRead(); err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	ok := w.loop(emit, living)
	emit(sentinelDie(root, !ok))
	return ok
}

func (w *rdcwWorker) issueRead() error {
	w.ov = windows.Overlapped{}
	return windows.ReadDirectoryChanges(w.handle, &w.buf[0], uint32(len(w.buf)), true, rdcwChangeFilter, nil, &w.ov, 0)
}

func (w *rdcwWorker) loop(emit Callback, living func() bool) bool {
	for living() {
		var n uint32
		var key uintptr
		var ov *windows.Overlapped

		err := windows.GetQueuedCompletionStatus(w.port, &n, &key, &ov, 16)
		if err != nil {
			if err == windows.WAIT_TIMEOUT {
				continue
			}
			emit(selfSentinel(tagEventRecv, w.root, err))
			return false
		}
		if ov == nil {
			continue
		}

		w.decodeChain(w.buf[:n], emit)

		if err := w.issueRead(); err != nil {
			emit(selfSentinel(tagSysResource, w.root, err))
			return false
		}
	}
	return true
}

// decodeChain walks the FILE_NOTIFY_INFORMATION linked list via
// NextEntryOffset, per spec §4.6.
func (w *rdcwWorker) decodeChain(buf []byte, emit Callback) {
	var offset uint32
	for {
		if offset+12 > uint32(len(buf)) {
			return
		}
		raw := (*windows.FileNotifyInformation)(unsafe.Pointer(&buf[offset]))

		nameLen := raw.FileNameLength / 2
		nameBytes := unsafe.Slice((*uint16)(unsafe.Pointer(&raw.FileName)), nameLen)
		name := windows.UTF16ToString(nameBytes)
		fullPath := filepath.Join(w.root, name)

		w.handleOne(raw.Action, fullPath, emit)

		if raw.NextEntryOffset == 0 {
			return
		}
		offset += raw.NextEntryOffset
	}
}

func (w *rdcwWorker) handleOne(action uint32, path string, emit Callback) {
	kind := rdcwClassify(path)

	switch action {
	case windows.FILE_ACTION_ADDED:
		emit(newEvent(path, Create, kind))
	case windows.FILE_ACTION_REMOVED:
		emit(newEvent(path, Destroy, kind))
	case windows.FILE_ACTION_MODIFIED:
		emit(newEvent(path, Modify, kind))
	case windows.FILE_ACTION_RENAMED_OLD_NAME:
		w.pendingOld = path
		w.emitRenameIfPaired(kind, emit)
	case windows.FILE_ACTION_RENAMED_NEW_NAME:
		w.pendingNew = path
		w.emitRenameIfPaired(kind, emit)
	}
}

// emitRenameIfPaired implements spec §4.6's tolerant pairing: whichever
// half arrives second completes the pair and carries the other half via
// associated_path_name.
func (w *rdcwWorker) emitRenameIfPaired(kind PathType, emit Callback) {
	if w.pendingOld == "" || w.pendingNew == "" {
		return
	}
	e := newEvent(w.pendingNew, Rename, kind)
	e.AssociatedPathName = w.pendingOld
	emit(e)
	w.pendingOld, w.pendingNew = "", ""
}

// rdcwClassify queries the path's current kind with try semantics,
// falling back to OtherPath if the path is already gone (spec §4.6).
func rdcwClassify(path string) PathType {
	info, err := os.Lstat(path)
	if err != nil {
		return OtherPath
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return SymLink
	case info.IsDir():
		return Dir
	default:
		return File
	}
}
