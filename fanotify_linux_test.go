//go:build linux

package watcher

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// requireFanotify skips the test unless the current process can
// plausibly initialize fanotify (CAP_SYS_ADMIN is required on every
// kernel this adapter targets, per spec §4.1).
func requireFanotify(t *testing.T) {
	t.Helper()
	if unix.Geteuid() != 0 {
		t.Skip("fanotify requires CAP_SYS_ADMIN (running as non-root)")
	}
}

func TestFanotifyScenarioCreateModifyDestroy(t *testing.T) {
	requireFanotify(t)
	tmp := t.TempDir()
	c := newCollector()
	a := newFanotifyAdapter(getOptions())
	stop := runAdapter(t, a, tmp, c.collect)

	f := filepath.Join(tmp, "a.txt")
	touch(t, f)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), f, Create) })

	write(t, "more", f)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), f, Modify) })

	rm(t, f)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), f, Destroy) })

	if !stop() {
		t.Error("stop() = false on a clean shutdown")
	}

	events := c.snapshot()
	if !events[0].IsSentinel() || events[0].PathName != "s/self/live@"+tmp {
		t.Errorf("first event = %+v, want live sentinel", events[0])
	}
	last := events[len(events)-1]
	if !last.IsSentinel() || last.PathName != "s/self/die@"+tmp {
		t.Errorf("last event = %+v, want die sentinel", last)
	}
}

func TestFanotifyMarksNewSubdirectory(t *testing.T) {
	requireFanotify(t)
	tmp := t.TempDir()
	c := newCollector()
	a := newFanotifyAdapter(getOptions())
	stop := runAdapter(t, a, tmp, c.collect)
	defer stop()

	d := filepath.Join(tmp, "d")
	mkdir(t, d)
	x := filepath.Join(d, "x")
	touch(t, x)

	waitFor(t, time.Second, func() bool {
		return anyEventOn(c.snapshot(), d, Create) && anyEventOn(c.snapshot(), x, Create)
	})

	events := c.snapshot()
	if !anyEventOn(events, d, Create) {
		t.Error("expected create event for new directory d")
	}
	if !anyEventOn(events, x, Create) {
		t.Error("expected create event for d/x — the mark on d must have been added in time")
	}
}

func TestFanotifyNonExistentRoot(t *testing.T) {
	requireFanotify(t)
	root := t.TempDir() + "/does-not-exist"
	c := newCollector()
	a := newFanotifyAdapter(getOptions())
	stop := runAdapter(t, a, root, c.collect)

	if ok := stop(); ok {
		t.Error("stop() = true watching a non-existent root, want false")
	}
}

func TestFanotifyRename(t *testing.T) {
	requireFanotify(t)
	tmp := t.TempDir()
	c := newCollector()
	a := newFanotifyAdapter(getOptions())
	stop := runAdapter(t, a, tmp, c.collect)
	defer stop()

	oldPath := filepath.Join(tmp, "a")
	newPath := filepath.Join(tmp, "b")
	touch(t, oldPath)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), oldPath, Create) })

	rename(t, oldPath, newPath)
	waitFor(t, time.Second, func() bool { return anyEventOn(c.snapshot(), oldPath, Rename) })

	if !anyEventOn(c.snapshot(), oldPath, Rename) {
		t.Error("expected a rename event on the old path")
	}
}
