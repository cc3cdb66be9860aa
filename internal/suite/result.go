// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package suite

import (
	"time"

	"go.sirikata.org/harness/internal/verdict"
)

// State is the lifecycle position of one test.
type State int

// States of a test.
const (
	Pending State = iota
	InProgress
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case InProgress:
		return "InProgress"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// MarshalText encodes s by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is the outcome of one test. Exactly one of Verdict and Fault
// explains a failure: Fault is set when the test could not produce a
// verdict.
type Result struct {
	Name    string           `json:"name"`
	Suite   string           `json:"suite"`
	State   State            `json:"state"`
	Verdict *verdict.Verdict `json:"verdict,omitempty"`
	Fault   error            `json:"-"`
	Dir     string           `json:"dir,omitempty"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
}

// Passed reports whether the test succeeded.
func (r *Result) Passed() bool { return r.State == Succeeded }

// FaultString returns the fault message, or "" if there was none.
func (r *Result) FaultString() string {
	if r.Fault == nil {
		return ""
	}
	return r.Fault.Error()
}

// CountFailed returns how many results did not succeed.
func CountFailed(results []*Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed() {
			n++
		}
	}
	return n
}
