// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stack captures and formats call stacks for the errors package.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxFrames = 10 // frames kept per trace

	truncated = "\t..." // appended when a trace is cut short
)

// Stack is a captured list of program counters.
type Stack []uintptr

// New captures the calling goroutine's stack. skip=0 makes the caller of New
// the innermost frame.
func New(skip int) Stack {
	pcs := make([]uintptr, maxFrames+1)
	return Stack(pcs[:runtime.Callers(skip+2, pcs)])
}

// String renders one "\tat func (file:line)" line per frame.
func (s Stack) String() string {
	var b strings.Builder
	frames := runtime.CallersFrames(s)
	for n := 0; ; n++ {
		if n >= maxFrames {
			b.WriteString("\n" + truncated)
			break
		}
		f, more := frames.Next()
		if n > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
