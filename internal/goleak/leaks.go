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

import (
	"fmt"
	"time"
)

// TestingT is the minimal subset of testing.TB VerifyNone needs.
type TestingT interface {
	Error(args ...interface{})
}

// testingT is an unexported alias kept for parity with goleak's own
// internal naming; TestingT is the public name.
type testingT = TestingT

// Find reports an error describing any goroutine still running that
// none of the default or caller-supplied filters exclude. It retries
// with backoff before giving up, since a goroutine that just finished
// its work can take a moment to actually unwind.
func Find(options ...Option) error {
	return find(buildOpts(options...))
}

// find is Find's implementation, taking an already-built *opts so
// VerifyTestMain can reuse the opts it built for runOnFailure/cleanup.
func find(o *opts) error {
	self := currentStack()

	var leaked []stack
	for attempt := 0; ; attempt++ {
		leaked = leaked[:0]
		for _, s := range getStacks() {
			if s.id == self.id || o.filter(s) {
				continue
			}
			leaked = append(leaked, s)
		}
		if len(leaked) == 0 {
			return nil
		}
		if !o.retry(attempt) {
			break
		}
		time.Sleep(o.maxSleep)
	}

	return fmt.Errorf("found unexpected goroutines:\n%s", formatStacks(leaked))
}

// VerifyNone calls t.Error with Find's result when it reports a leak.
func VerifyNone(t TestingT, options ...Option) {
	if err := Find(options...); err != nil {
		t.Error(err)
	}
}
