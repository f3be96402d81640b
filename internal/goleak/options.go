// Copyright (c) 2017 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package goleak

import "time"

// Option configures Find/VerifyNone/VerifyTestMain.
type Option func(*opts)

type opts struct {
	filters      []func(stack) bool
	maxRetries   int
	maxSleep     time.Duration
	cleanup      func(exitCode int)
	runOnFailure bool
}

// defaultFilters exclude goroutines the runtime or the testing package
// itself always leaves running; none of these indicate a leak in the
// code under test.
var defaultFilters = []func(stack) bool{
	func(s stack) bool { return s.hasFunction("testing.RunTests") },
	func(s stack) bool { return s.hasFunction("testing.(*T).Run") },
	func(s stack) bool { return s.hasFunction("runtime.goexit") && len(s.functions) == 1 },
	func(s stack) bool { return s.hasFunction("os/signal.signal_recv") },
	func(s stack) bool { return s.hasFunction("os/signal.loop") },
	func(s stack) bool { return s.hasFunction("internal/poll.runtime_pollWait") },
	func(s stack) bool { return s.hasFunction("net/http.(*persistConn).readLoop") },
	func(s stack) bool { return s.hasFunction("net/http.(*persistConn).writeLoop") },
}

func buildOpts(options ...Option) *opts {
	o := &opts{
		filters:    append([]func(stack) bool(nil), defaultFilters...),
		maxRetries: 20,
		maxSleep:   100 * time.Millisecond,
	}
	for _, option := range options {
		option(o)
	}
	return o
}

func (o *opts) filter(s stack) bool {
	for _, f := range o.filters {
		if f(s) {
			return true
		}
	}
	return false
}

func (o *opts) retry(attempt int) bool {
	return attempt < o.maxRetries
}

// maxSleep overrides the backoff between retries; unexported since only
// tests need a shorter-than-default wait.
func maxSleep(d time.Duration) Option {
	return func(o *opts) { o.maxSleep = d }
}

// IgnoreTopFunction ignores goroutines whose topmost stack frame is the
// named function, e.g. "time.Sleep".
func IgnoreTopFunction(name string) Option {
	return func(o *opts) {
		o.filters = append(o.filters, func(s stack) bool { return s.topFunction() == name })
	}
}

// IgnoreAnyFunction ignores goroutines with the named function anywhere
// in their stack frames, e.g. "net/http.(*Server).Serve". The
// "created by" line of a trace is not a frame and is not matched.
func IgnoreAnyFunction(name string) Option {
	return func(o *opts) {
		o.filters = append(o.filters, func(s stack) bool { return s.hasFunction(name) })
	}
}

// IgnoreCurrent records every goroutine running at the moment it's
// called and excludes them from later Find/VerifyNone calls, so only
// goroutines started afterward count as leaks.
func IgnoreCurrent() Option {
	ids := make(map[int]struct{})
	for _, s := range getStacks() {
		ids[s.id] = struct{}{}
	}
	return func(o *opts) {
		o.filters = append(o.filters, func(s stack) bool {
			_, ok := ids[s.id]
			return ok
		})
	}
}

// Cleanup registers a function VerifyTestMain calls with the test exit
// code instead of calling os.Exit directly.
func Cleanup(f func(exitCode int)) Option {
	return func(o *opts) { o.cleanup = f }
}
