//go:build darwin

package watcher

/*
#cgo LDFLAGS: -framework CoreServices

#include <CoreServices/CoreServices.h>
#include <stdlib.h>

extern void fsEventsCallback(ConstFSEventStreamRef stream,
                              uintptr_t info,
                              size_t numEvents,
                              void *eventPaths,
                              const FSEventStreamEventFlags eventFlags[],
                              const FSEventStreamEventId eventIds[]);

static FSEventStreamRef watcherFSEventStreamCreate(uintptr_t info, CFArrayRef paths, CFAbsoluteTime sinceWhen, CFTimeInterval latency, FSEventStreamCreateFlags flags) {
	FSEventStreamContext ctx = {0};
	ctx.info = (void *)info;
	return FSEventStreamCreate(NULL, (FSEventStreamCallback)fsEventsCallback, &ctx, paths, sinceWhen, latency, flags);
}
*/
import "C"

import (
	"runtime/cgo"
	"time"
	"unsafe"
)

func sleepMS(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }

// fsEventsDelayMS is the OS-side coalescing latency between scans after
// a period of inactivity, per spec §4.5/original_source's delay_ms.
const fsEventsDelayMS = 16

const fsEventsStreamFlags = C.kFSEventStreamCreateFlagFileEvents |
	C.kFSEventStreamCreateFlagUseExtendedData |
	C.kFSEventStreamCreateFlagUseCFTypes

type fsEventsAdapter struct{}

func newFSEventsAdapter(o Options) adapter { return &fsEventsAdapter{} }

// fsEventsState is the per-run state handed through a cgo.Handle to the
// C callback: the emit func and the create/destroy dedup set described
// by spec §4.5's "batched duplicate event" note.
type fsEventsState struct {
	emit        Callback
	seenCreated map[string]struct{}
}

func (a *fsEventsAdapter) run(root string, emit Callback, living func() bool) bool {
	emit(sentinelLive(root))

	state := &fsEventsState{emit: emit, seenCreated: make(map[string]struct{})}
	handle := cgo.NewHandle(state)
	defer handle.Delete()

	cPath := C.CString(root)
	defer C.free(unsafe.Pointer(cPath))

	pathCFStr := C.CFStringCreateWithCString(0, cPath, C.kCFStringEncodingUTF8)
	defer C.CFRelease(C.CFTypeRef(pathCFStr))

	pathArray := C.CFArrayCreate(0, (*unsafe.Pointer)(unsafe.Pointer(&pathCFStr)), 1, &C.kCFTypeArrayCallBacks)
	defer C.CFRelease(C.CFTypeRef(pathArray))

	stream := C.watcherFSEventStreamCreate(
		C.uintptr_t(handle),
		pathArray,
		C.kFSEventStreamEventIdSinceNow,
		C.CFTimeInterval(float64(fsEventsDelayMS)/1000.0),
		C.FSEventStreamCreateFlags(fsEventsStreamFlags),
	)
	if stream == 0 {
		emit(selfSentinel(tagSysResource, root, nil))
		emit(sentinelDie(root, true))
		return false
	}

	queue := C.dispatch_queue_create(C.CString("watcher-go-fsevents"), C.dispatch_queue_attr_make_with_qos_class(
		C.DISPATCH_QUEUE_SERIAL, C.QOS_CLASS_USER_INITIATED, -10))

	C.FSEventStreamSetDispatchQueue(stream, queue)
	C.FSEventStreamStart(stream)

	for living() {
		sleepMS(fsEventsDelayMS)
	}

	C.FSEventStreamStop(stream)
	C.FSEventStreamInvalidate(stream)
	C.FSEventStreamRelease(stream)
	C.dispatch_release(C.dispatch_object_t(unsafe.Pointer(queue)))

	emit(sentinelDie(root, false))
	return true
}

//export fsEventsCallback
func fsEventsCallback(stream C.ConstFSEventStreamRef, info C.uintptr_t, numEvents C.size_t, eventPaths unsafe.Pointer, eventFlags *C.FSEventStreamEventFlags, eventIds *C.FSEventStreamEventId) {
	handle := cgo.Handle(info)
	state, ok := handle.Value().(*fsEventsState)
	if !ok {
		return
	}

	flags := unsafe.Slice(eventFlags, int(numEvents))
	paths := C.CFArrayRef(eventPaths)

	for i := 0; i < int(numEvents); i++ {
		flag := uint32(flags[i])
		path := fsEventPathAt(paths, C.CFIndex(i))
		if path == "" {
			continue
		}

		kind := classifyFSEventFlag(flag)

		if flag&C.kFSEventStreamEventFlagItemCreated != 0 {
			if _, seen := state.seenCreated[path]; !seen {
				state.seenCreated[path] = struct{}{}
				state.emit(newEvent(path, Create, kind))
			}
		}
		if flag&C.kFSEventStreamEventFlagItemRemoved != 0 {
			if _, seen := state.seenCreated[path]; seen {
				delete(state.seenCreated, path)
				state.emit(newEvent(path, Destroy, kind))
			}
		}
		if flag&C.kFSEventStreamEventFlagItemModified != 0 {
			state.emit(newEvent(path, Modify, kind))
		}
		if flag&C.kFSEventStreamEventFlagItemRenamed != 0 {
			state.emit(newEvent(path, Rename, kind))
		}
	}
}

func classifyFSEventFlag(flag uint32) PathType {
	switch {
	case flag&C.kFSEventStreamEventFlagItemIsFile != 0:
		return File
	case flag&C.kFSEventStreamEventFlagItemIsDir != 0:
		return Dir
	case flag&C.kFSEventStreamEventFlagItemIsSymlink != 0:
		return SymLink
	case flag&(C.kFSEventStreamEventFlagItemIsHardlink|C.kFSEventStreamEventFlagItemIsLastHardlink) != 0:
		return HardLink
	default:
		return OtherPath
	}
}

// fsEventPathAt pulls the extended-data path string out of the i-th
// dictionary in the event-paths CFArray, grounded on
// original_source's path_from_event_at.
func fsEventPathAt(paths C.CFArrayRef, i C.CFIndex) string {
	dict := C.CFDictionaryRef(C.CFArrayGetValueAtIndex(paths, i))
	if dict == 0 {
		return ""
	}
	val := C.CFDictionaryGetValue(dict, unsafe.Pointer(C.kFSEventStreamEventExtendedDataPathKey))
	if val == 0 {
		return ""
	}
	cstr := C.CFStringGetCStringPtr(C.CFStringRef(val), C.kCFStringEncodingUTF8)
	if cstr == nil {
		return ""
	}
	return C.GoString(cstr)
}
