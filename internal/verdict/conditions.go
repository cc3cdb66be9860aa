// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package verdict

import (
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.sirikata.org/harness/errors"
)

// Markers written into logs by the simulator, its scripts and the test
// drivers.
const (
	// ExceptionMarker is printed by the scripting layer for an exception
	// that reached the top level.
	ExceptionMarker = "Uncaught exception"
	// TerminateMarker is printed by the C++ runtime before it aborts on an
	// uncaught exception.
	TerminateMarker = "terminate called after throwing"
	// TimedOutMarker is appended to a log by a driver that had to stop its
	// process.
	TimedOutMarker = "TEST TIMED OUT"
	// UnitTestFailMarker is printed by in-simulation unit tests.
	UnitTestFailMarker = "UNIT_TEST_FAIL"
)

// Result is the outcome of one condition check.
type Result struct {
	Name   string
	Exists bool
	// Detail is the first offending line when Exists is set.
	Detail string
}

// Condition is a named check over the full output of a test. Checks hold no
// state, so their order does not matter.
type Condition interface {
	Name() string
	Check(text string) Result
}

type markerCondition struct {
	name    string
	markers []string
}

// NewMarkerCondition returns a Condition that fires when any of markers
// occurs in the output.
func NewMarkerCondition(name string, markers ...string) Condition {
	return &markerCondition{name: name, markers: markers}
}

func (c *markerCondition) Name() string { return c.name }

func (c *markerCondition) Check(text string) Result {
	res := Result{Name: c.name}
	for _, m := range c.markers {
		i := strings.Index(text, m)
		if i < 0 {
			continue
		}
		res.Exists = true
		res.Detail = lineAt(text, i)
		break
	}
	return res
}

// lineAt returns the line of text containing offset i.
func lineAt(text string, i int) string {
	start := strings.LastIndexByte(text[:i], '\n') + 1
	end := strings.IndexByte(text[i:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : i+end]
}

// Built-in conditions.
var (
	Exception    = NewMarkerCondition("ExceptionError", ExceptionMarker, TerminateMarker)
	TimedOut     = NewMarkerCondition("TimedOutError", TimedOutMarker)
	UnitTestFail = NewMarkerCondition("UnitTestFailError", UnitTestFailMarker)
)

// DefaultConditions returns the checks for a test expected to finish on its
// own.
func DefaultConditions() []Condition {
	return []Condition{Exception, TimedOut, UnitTestFail}
}

// TimeoutTestConditions returns the checks for a test whose normal end is
// being stopped at its deadline.
func TimeoutTestConditions() []Condition {
	return []Condition{Exception, UnitTestFail}
}

// Registry maps condition names to conditions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conds map[string]Condition
}

// NewRegistry returns a Registry holding conds.
func NewRegistry(conds ...Condition) *Registry {
	r := &Registry{conds: make(map[string]Condition)}
	for _, c := range conds {
		r.conds[c.Name()] = c
	}
	return r
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Condition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conds[c.Name()]; ok {
		return errors.Errorf("condition %q already registered", c.Name())
	}
	r.conds[c.Name()] = c
	return nil
}

// Lookup returns the condition called name.
func (r *Registry) Lookup(name string) (Condition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conds[name]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := maps.Keys(r.conds)
	slices.Sort(names)
	return names
}

// Resolve looks up each name in turn.
func (r *Registry) Resolve(names []string) ([]Condition, error) {
	var conds []Condition
	for _, n := range names {
		c, ok := r.Lookup(n)
		if !ok {
			return nil, errors.Errorf("unknown condition %q (known: %s)", n, strings.Join(r.Names(), ", "))
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// Builtin holds the built-in conditions. Drivers may register more.
var Builtin = NewRegistry(Exception, TimedOut, UnitTestFail)
