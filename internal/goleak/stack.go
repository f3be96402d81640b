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
	"bufio"
	"bytes"
	"runtime"
	"strconv"
	"strings"
)

// stack is one goroutine's parsed entry from a runtime.Stack dump: its
// id, its state ("running", "chan receive", ...), the function names
// appearing in its trace (topmost first), and the trace text itself.
type stack struct {
	id        int
	state     string
	functions []string
	full      string
}

func (s stack) topFunction() string {
	if len(s.functions) == 0 {
		return ""
	}
	return s.functions[0]
}

func (s stack) hasFunction(name string) bool {
	for _, f := range s.functions {
		if f == name {
			return true
		}
	}
	return false
}

// dump returns a runtime.Stack text covering every goroutine when all
// is true (only the calling goroutine otherwise), growing the buffer
// until the dump fits.
func dump(all bool) []byte {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, all)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// getStacks parses every goroutine currently running.
func getStacks() []stack { return parseStacks(dump(true)) }

// currentStack returns only the calling goroutine's own entry, used to
// exclude it from leak detection.
func currentStack() stack {
	stacks := parseStacks(dump(false))
	if len(stacks) == 0 {
		return stack{id: -1}
	}
	return stacks[0]
}

func parseStacks(buf []byte) []stack {
	var out []stack
	var cur *stack
	var lines []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.full = strings.Join(lines, "\n")
		out = append(out, *cur)
	}

	scanner := bufio.NewScanner(bytes.NewReader(buf))
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "goroutine ") {
			flush()
			cur = &stack{}
			lines = []string{line}

			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if id, err := strconv.Atoi(fields[1]); err == nil {
					cur.id = id
				}
			}
			if i := strings.Index(line, "["); i >= 0 {
				cur.state = strings.TrimSuffix(line[i+1:], "]:")
			}
			continue
		}
		if cur == nil {
			continue
		}
		lines = append(lines, line)

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "0x") {
			continue
		}
		if !strings.HasPrefix(line, "\t") && strings.Contains(trimmed, "(") {
			if i := strings.LastIndex(trimmed, "("); i > 0 {
				cur.functions = append(cur.functions, trimmed[:i])
			}
		}
	}
	flush()
	return out
}

func formatStacks(stacks []stack) string {
	var b strings.Builder
	for i, s := range stacks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.full)
	}
	return b.String()
}
