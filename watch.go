package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/e-dant/watcher-go/internal/wlog"
)

// Callback receives one Event at a time, invoked synchronously and
// sequentially on the watcher's worker. It must not block indefinitely;
// doing so delays delivery of the terminal sentinel on Close.
type Callback func(Event)

// adapter is the common shape every platform-specific event source
// implements. run is called once, on its own goroutine, by Open; it must
// emit a live sentinel before any real event, run until living() is
// false or a fatal error occurs, then emit a die sentinel and return
// whether it terminated cleanly.
type adapter interface {
	run(root string, emit Callback, living func() bool) bool
}

// Options configure Open. See WithForceScan and WithBufferSize.
type Options struct {
	forceScan    bool
	bufferSize   uint
	pollInterval time.Duration
}

// Option is a functional option for Open, grounded on the teacher's own
// addOpt/withOpts pattern for per-watch configuration.
type Option func(*Options)

// WithForceScan bypasses the platform selector and always uses the
// portable scan adapter, regardless of OS or privilege.
func WithForceScan() Option {
	return func(o *Options) { o.forceScan = true }
}

// WithBufferSize hints the size of any internal event buffer an adapter
// uses (consulted by the Linux adapters' read buffer sizing and the
// Windows adapter's ReadDirectoryChangesW buffer).
func WithBufferSize(n uint) Option {
	return func(o *Options) { o.bufferSize = n }
}

// WithPollInterval sets the scan adapter's sleep between sweeps.
// Consulted only by the portable scan fallback; ignored by the native
// event-driven adapters.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.pollInterval = d }
}

func getOptions(opts ...Option) Options {
	o := Options{bufferSize: 64 * 1024, pollInterval: 16 * time.Millisecond}
	for _, f := range opts {
		f(&o)
	}
	return o
}

// Watcher owns one adapter worker watching a single root path.
type Watcher struct {
	root string
	cb   Callback

	closeRequested int32 // atomic bool
	done           chan struct{}

	closeMu   sync.Mutex
	closed    bool
	cleanExit bool
}

// Open begins watching root (a file or directory) and invokes cb for
// every event observed, including the leading live/trailing die
// sentinels described in spec §6. Open returns immediately; the worker
// runs on its own goroutine until Close is called or a fatal error
// occurs.
func Open(root string, cb Callback, opts ...Option) (*Watcher, error) {
	o := getOptions(opts...)
	a := selectAdapter(o)

	w := &Watcher{
		root: root,
		cb:   cb,
		done: make(chan struct{}),
	}

	emit := cb
	if wlog.Enabled() {
		emit = func(e Event) {
			wlog.Line(e)
			cb(e)
		}
	}

	started := make(chan struct{})
	go func() {
		close(started)
		ok := a.run(root, emit, w.living)
		w.closeMu.Lock()
		w.cleanExit = ok
		w.closed = true
		w.closeMu.Unlock()
		close(w.done)
	}()
	<-started

	return w, nil
}

func (w *Watcher) living() bool {
	return atomic.LoadInt32(&w.closeRequested) == 0
}

// Close requests the worker stop, waits for it to exit, and reports
// whether the shutdown was clean. A second call returns false without
// blocking on the worker again, per spec §4.2/§8.
func (w *Watcher) Close() bool {
	if !atomic.CompareAndSwapInt32(&w.closeRequested, 0, 1) {
		return false
	}
	<-w.done
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	return w.cleanExit
}
