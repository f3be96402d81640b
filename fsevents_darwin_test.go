//go:build darwin

package watcher

/*
#include <CoreServices/CoreServices.h>
*/
import "C"

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func runFSEventsAdapter(t *testing.T, root string, emit Callback) (stop func() bool) {
	t.Helper()
	var closeRequested int32
	done := make(chan bool, 1)
	a := newFSEventsAdapter(getOptions())

	go func() {
		done <- a.run(root, emit, func() bool { return atomic.LoadInt32(&closeRequested) == 0 })
	}()

	var closed int32
	return func() bool {
		if !atomic.CompareAndSwapInt32(&closed, 0, 1) {
			return false
		}
		atomic.StoreInt32(&closeRequested, 1)
		select {
		case ok := <-done:
			return ok
		case <-time.After(5 * time.Second):
			t.Fatal("fsevents adapter did not stop within 5s of close being requested")
			return false
		}
	}
}

func TestFSEventsScenarioCreateDestroy(t *testing.T) {
	tmp := t.TempDir()
	c := newCollector()
	stop := runFSEventsAdapter(t, tmp, c.collect)

	f := filepath.Join(tmp, "a")
	touch(t, f)
	waitFor(t, 2*time.Second, func() bool { return anyEventOn(c.snapshot(), f, Create) })

	rm(t, f)
	waitFor(t, 2*time.Second, func() bool { return anyEventOn(c.snapshot(), f, Destroy) })

	if !stop() {
		t.Error("stop() = false on a clean shutdown")
	}

	events := c.snapshot()
	if !anyEventOn(events, f, Create) || !anyEventOn(events, f, Destroy) {
		t.Error("expected both a create and a destroy event for a, even if batched together by FSEvents")
	}
}

func TestFSEventsCreateDedup(t *testing.T) {
	state := &fsEventsState{emit: func(Event) {}, seenCreated: make(map[string]struct{})}

	got := make([]Event, 0)
	state.emit = func(e Event) { got = append(got, e) }

	path := "/tmp/watcher-fsevents-dedup-test"
	// Simulate two ItemCreated notifications for the same path in one
	// batch window, which FSEvents is documented to sometimes send.
	if _, seen := state.seenCreated[path]; !seen {
		state.seenCreated[path] = struct{}{}
		state.emit(newEvent(path, Create, File))
	}
	if _, seen := state.seenCreated[path]; !seen {
		state.seenCreated[path] = struct{}{}
		state.emit(newEvent(path, Create, File))
	}

	if len(got) != 1 {
		t.Fatalf("got %d create events for one path in one batch, want 1 (deduped)", len(got))
	}
}

func TestClassifyFSEventFlagPriority(t *testing.T) {
	// Priority order per spec §4.5: IsFile, IsDir, IsSymlink, hard link.
	both := uint32(C.kFSEventStreamEventFlagItemIsFile | C.kFSEventStreamEventFlagItemIsDir)
	if kind := classifyFSEventFlag(both); kind != File {
		t.Errorf("IsFile|IsDir classified as %v, want File", kind)
	}
}
