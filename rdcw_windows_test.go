//go:build windows

package watcher

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/windows"
)

func runRDCWAdapter(t *testing.T, root string, emit Callback) (stop func() bool) {
	t.Helper()
	var closeRequested int32
	done := make(chan bool, 1)
	a := newRDCWAdapter(getOptions())

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
			t.Fatal("rdcw adapter did not stop within 5s of close being requested")
			return false
		}
	}
}

func TestRDCWScenarioCreateModify(t *testing.T) {
	tmp := t.TempDir()
	c := newCollector()
	stop := runRDCWAdapter(t, tmp, c.collect)

	f := filepath.Join(tmp, "a.txt")
	touch(t, f)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), f, Create) })

	write(t, "more", f)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), f, Modify) })

	if !stop() {
		t.Error("stop() = false on a clean shutdown")
	}
}

func TestRDCWRenamePairing(t *testing.T) {
	tmp := t.TempDir()
	c := newCollector()
	stop := runRDCWAdapter(t, tmp, c.collect)
	defer stop()

	oldPath := filepath.Join(tmp, "a")
	newPath := filepath.Join(tmp, "b")
	touch(t, oldPath)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), oldPath, Create) })

	rename(t, oldPath, newPath)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), newPath, Rename) })

	events := c.snapshot()
	found := false
	for _, e := range events {
		if e.EffectType == Rename && e.PathName == newPath {
			if e.AssociatedPathName != oldPath {
				t.Errorf("rename event AssociatedPathName = %q, want %q", e.AssociatedPathName, oldPath)
			}
			found = true
		}
	}
	if !found {
		t.Error("no single joined rename event observed for old/new pair")
	}
}

func TestRDCWRenamePairingOutOfOrder(t *testing.T) {
	var got []Event
	w := &rdcwWorker{root: `C:\tmp`}
	emit := func(e Event) { got = append(got, e) }

	// RENAMED_NEW_NAME arriving before RENAMED_OLD_NAME must still join
	// into exactly one event, per spec §4.6's documented lack of
	// ordering between the two halves.
	w.handleOne(windows.FILE_ACTION_RENAMED_NEW_NAME, `C:\tmp\b`, emit)
	w.handleOne(windows.FILE_ACTION_RENAMED_OLD_NAME, `C:\tmp\a`, emit)

	renames := 0
	for _, e := range got {
		if e.EffectType == Rename {
			renames++
			if e.PathName != `C:\tmp\b` || e.AssociatedPathName != `C:\tmp\a` {
				t.Errorf("rename event = %+v, want PathName=b AssociatedPathName=a", e)
			}
		}
	}
	if renames != 1 {
		t.Fatalf("got %d rename events, want exactly 1", renames)
	}
}
