// Copyright (c) 2017 Uber Technologies, Inc.

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
	"strings"
	"testing"
	"time"
)

// Ensure that testingT is a subset of testing.TB.
var _ = testingT(testing.TB(nil))

// testOptions passes a shorter max sleep time, used so tests don't wait
// ~1 second in cases where we expect Find to error out.
func testOptions() Option {
	return maxSleep(time.Millisecond)
}

func TestFindNoLeaksByDefault(t *testing.T) {
	if err := Find(); err != nil {
		t.Errorf("Find() = %v, want no leaks", err)
	}
}

func TestFindLeakedGoroutine(t *testing.T) {
	bg := startBlockedG()

	err := Find(testOptions())
	if err == nil {
		t.Fatal("Find() = nil, want an error for the leaked goroutine")
	}
	if !strings.Contains(err.Error(), "startBlockedG") {
		t.Errorf("Find() error = %q, want it to mention startBlockedG", err)
	}

	bg.unblock()
	if err := Find(); err != nil {
		t.Errorf("Find() after unblock = %v, want no leaks", err)
	}
}

func TestFindRetry(t *testing.T) {
	bg := startBlockedG()
	if err := Find(testOptions()); err == nil {
		t.Fatal("Find() = nil, want an error for the leaked goroutine")
	}

	go func() {
		time.Sleep(time.Millisecond)
		bg.unblock()
	}()
	if err := Find(); err != nil {
		t.Errorf("Find() = %v, want the retry loop to wait out the background goroutine ending", err)
	}
}

type fakeT struct {
	errors []string
}

func (ft *fakeT) Error(args ...interface{}) {
	ft.errors = append(ft.errors, args[0].(error).Error())
}

func TestVerifyNone(t *testing.T) {
	ft := &fakeT{}
	VerifyNone(ft)
	if len(ft.errors) != 0 {
		t.Errorf("VerifyNone recorded %d errors with no leaks present, want 0", len(ft.errors))
	}

	bg := startBlockedG()
	VerifyNone(ft, testOptions())
	if len(ft.errors) == 0 {
		t.Error("VerifyNone recorded no errors with a leaked goroutine present, want at least 1")
	}
	bg.unblock()
}

func TestVerifyNoneDoesNotCallCleanup(t *testing.T) {
	ft := &fakeT{}
	cleanupCalled := false
	VerifyNone(ft, Cleanup(func(c int) {
		if c != 0 {
			t.Errorf("cleanup exit code = %d, want 0", c)
		}
		cleanupCalled = true
	}))
	// VerifyNone doesn't itself run cleanup (only VerifyTestMain does);
	// registering one via Cleanup is still a valid, harmless option.
	if cleanupCalled {
		t.Error("VerifyNone called the Cleanup function, want it left to VerifyTestMain")
	}
}

func TestIgnoreCurrentIgnoresRunningGoroutine(t *testing.T) {
	done := make(chan struct{})
	go func() { <-done }()

	opt := IgnoreCurrent()
	if err := Find(opt); err != nil {
		t.Errorf("Find(IgnoreCurrent()) = %v, want the pre-existing goroutine ignored", err)
	}
	close(done)
}

func TestIgnoreCurrentStillCatchesNewLeaks(t *testing.T) {
	opt := IgnoreCurrent()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		<-done
		close(exited)
	}()

	if err := Find(opt, testOptions()); err == nil {
		t.Error("Find(IgnoreCurrent()) = nil, want the goroutine started after IgnoreCurrent to be flagged")
	}
	close(done)
	// Wait for the goroutine to finish so it is not still around when
	// the options tests inspect every running goroutine.
	<-exited
}
