// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package verdict decides whether a test run passed from its exit code and
// the text it logged.
package verdict

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.sirikata.org/harness/errors"
)

// Labels for negative exit codes.
const (
	AssertFault = "Assert fault"
	SegFault    = "Seg fault"
	Unknown     = "Unknown"
)

// ClassifyExitCode names the signal behind a negative exit code. It returns
// "" for codes that are not negative.
func ClassifyExitCode(code int) string {
	switch {
	case code >= 0:
		return ""
	case code == -6:
		return AssertFault
	case code == -11:
		return SegFault
	default:
		return Unknown
	}
}

// Verdict is the outcome of analyzing one run.
type Verdict struct {
	Passed   bool     `json:"passed"`
	ExitCode int      `json:"exitCode"`
	Class    string   `json:"class,omitempty"`
	Results  []Result `json:"-"`
	// Triggered names the conditions that fired, in check order.
	Triggered []string `json:"triggered,omitempty"`
	Touches   []string `json:"touches,omitempty"`
}

// AnalyzeText checks text with conds. The run fails if exitCode is negative
// or any condition fires.
func AnalyzeText(text string, exitCode int, conds []Condition, touches []string) *Verdict {
	v := &Verdict{
		ExitCode: exitCode,
		Class:    ClassifyExitCode(exitCode),
		Touches:  touches,
	}
	failed := exitCode < 0
	for _, c := range conds {
		r := c.Check(text)
		v.Results = append(v.Results, r)
		if r.Exists {
			v.Triggered = append(v.Triggered, r.Name)
			failed = true
		}
	}
	v.Passed = !failed
	return v
}

// Analyze reads the log at path and checks it with conds.
func Analyze(path string, exitCode int, conds []Condition, touches []string) (*Verdict, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read output")
	}
	return AnalyzeText(string(b), exitCode, conds, touches), nil
}

// Report writes the human-readable verdict to w.
func (v *Verdict) Report(w io.Writer) {
	if v.Passed {
		fmt.Fprintln(w, "TEST PASSED")
	} else {
		fmt.Fprintln(w, "TEST FAILED")
		fmt.Fprintln(w, "  Features used by test:", strings.Join(v.Touches, ", "))
	}
	for _, r := range v.Results {
		if r.Exists {
			fmt.Fprintf(w, "%s: true\n", r.Name)
			if r.Detail != "" {
				fmt.Fprintf(w, "    %s\n", r.Detail)
			}
		}
	}
	if v.ExitCode < 0 {
		fmt.Fprintf(w, "Error exit code: %s (%d)\n", v.Class, v.ExitCode)
	}
}

func (v *Verdict) String() string {
	var sb strings.Builder
	v.Report(&sb)
	return sb.String()
}
