// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package reporting records suite results as JSON and publishes them to an
// MQTT broker as they arrive.
package reporting

import (
	"encoding/json"
	"os"
	"time"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/suite"
	"go.sirikata.org/harness/internal/verdict"
)

// ResultsFile is the name of the results file in a result directory.
const ResultsFile = "results.json"

// Entry is the serialized form of one test result.
type Entry struct {
	Suite    string           `json:"suite"`
	Name     string           `json:"name"`
	State    string           `json:"state"`
	Passed   bool             `json:"passed"`
	Verdict  *verdict.Verdict `json:"verdict,omitempty"`
	Fault    string           `json:"fault,omitempty"`
	Dir      string           `json:"dir,omitempty"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
	Duration float64          `json:"durationSeconds"`
}

// NewEntry converts r.
func NewEntry(r *suite.Result) Entry {
	e := Entry{
		Suite:   r.Suite,
		Name:    r.Name,
		State:   r.State.String(),
		Passed:  r.Passed(),
		Verdict: r.Verdict,
		Fault:   r.FaultString(),
		Dir:     r.Dir,
		Start:   r.Start,
		End:     r.End,
	}
	if !r.Start.IsZero() && !r.End.IsZero() {
		e.Duration = r.End.Sub(r.Start).Seconds()
	}
	return e
}

// WriteResults writes results to path as an indented JSON array.
func WriteResults(path string, results []*suite.Result) error {
	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, NewEntry(r))
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return errors.Wrap(err, "failed to write results")
	}
	return nil
}

// ReadResults parses a file written by WriteResults.
func ReadResults(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, errors.Wrapf(err, "bad results file %s", path)
	}
	return entries, nil
}
