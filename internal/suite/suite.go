// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package suite runs named collections of tests, each in its own working
// directory, and collects a result for every test.
package suite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/timing"
	"go.sirikata.org/harness/internal/verdict"
)

// Env is what a running test gets from the suite.
type Env struct {
	Suite string
	Name  string
	// Dir is the test's own working directory. It is also the process's
	// current directory while the test runs.
	Dir string
	// Out receives the user-visible report of the test.
	Out io.Writer

	logs []namedLog
}

type namedLog struct{ name, path string }

// AttachLog names a log file to print in the report if the test fails.
func (e *Env) AttachLog(name, path string) {
	e.logs = append(e.logs, namedLog{name, path})
}

// printLogs writes every attached log to w, indented.
func (e *Env) printLogs(w io.Writer) {
	if len(e.logs) == 0 {
		return
	}
	fmt.Fprintln(w, "Execution Log:")
	for _, l := range e.logs {
		fmt.Fprintln(w, "  ", l.name)
		b, err := os.ReadFile(l.path)
		if err != nil {
			fmt.Fprintf(w, "     (unreadable: %v)\n", err)
			continue
		}
		for _, line := range strings.SplitAfter(string(b), "\n") {
			if line != "" {
				fmt.Fprint(w, "     ", line)
			}
		}
		if len(b) > 0 && b[len(b)-1] != '\n' {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
}

// Test is one runnable test.
//
// Run returns the verdict of the test. A returned error means the test could
// not produce a verdict and counts as a failure. A nil verdict with a nil
// error counts as a pass.
type Test interface {
	Name() string
	Run(ctx context.Context, env *Env) (*verdict.Verdict, error)
}

// FeatureTest is a Test that names the features it exercises. The names are
// reported when the test fails without a verdict.
type FeatureTest interface {
	Test
	Features() []string
}

type funcTest struct {
	name string
	f    func(ctx context.Context, env *Env) (*verdict.Verdict, error)
}

func (t *funcTest) Name() string { return t.name }

func (t *funcTest) Run(ctx context.Context, env *Env) (*verdict.Verdict, error) {
	return t.f(ctx, env)
}

// Func adapts a function to the Test interface.
func Func(name string, f func(ctx context.Context, env *Env) (*verdict.Verdict, error)) Test {
	return &funcTest{name, f}
}

// CleanupPolicy says which test directories are removed after a run.
type CleanupPolicy int

const (
	// CleanAlways removes every test directory.
	CleanAlways CleanupPolicy = iota
	// KeepFailed removes the directories of tests that succeeded.
	KeepFailed
	// KeepAll leaves every directory in place.
	KeepAll
)

// Options configures a Suite.
type Options struct {
	// BaseDir holds one directory per suite, each holding one directory per
	// test. Defaults to the current directory.
	BaseDir string
	// Out receives test reports and the per-test status lines.
	Out io.Writer
	// Err receives traces of test faults. Defaults to Out.
	Err     io.Writer
	Cleanup CleanupPolicy
	// OnResult, if set, is called after each test finishes.
	OnResult func(r *Result)
}

// ErrNotDirectory is reported when a test's directory path exists but is not
// a directory.
var ErrNotDirectory = errors.New("test path exists and is not a directory")

// ErrDuplicateTest is returned by Add for a name that is already taken.
var ErrDuplicateTest = errors.New("duplicate test name")

// Suite owns an ordered set of tests. Tests are only ever added.
type Suite struct {
	name   string
	opts   Options
	tests  []Test
	byName map[string]Test
}

// New returns an empty suite.
func New(name string, opts Options) *Suite {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Err == nil {
		opts.Err = opts.Out
	}
	return &Suite{name: name, opts: opts, byName: make(map[string]Test)}
}

// Name returns the suite name.
func (s *Suite) Name() string { return s.name }

// Add registers t after the tests already present.
func (s *Suite) Add(t Test) error {
	if _, ok := s.byName[t.Name()]; ok {
		return errors.Wrapf(ErrDuplicateTest, "%s::%s", s.name, t.Name())
	}
	s.tests = append(s.tests, t)
	s.byName[t.Name()] = t
	return nil
}

// Names returns the test names in registration order.
func (s *Suite) Names() []string {
	names := make([]string, len(s.tests))
	for i, t := range s.tests {
		names[i] = t.Name()
	}
	return names
}

// RunAll runs every test in registration order.
func (s *Suite) RunAll(ctx context.Context) []*Result {
	return s.runTests(ctx, s.tests)
}

// Run runs the named tests in the given order, or all tests when no names
// are given. Unknown names are rejected before anything runs.
func (s *Suite) Run(ctx context.Context, names ...string) ([]*Result, error) {
	if len(names) == 0 {
		return s.RunAll(ctx), nil
	}
	var tests []Test
	for _, n := range names {
		t, ok := s.byName[n]
		if !ok {
			return nil, errors.Errorf("no test named %q in suite %s", n, s.name)
		}
		tests = append(tests, t)
	}
	return s.runTests(ctx, tests), nil
}

func (s *Suite) runTests(ctx context.Context, tests []Test) []*Result {
	results := make([]*Result, 0, len(tests))
	for _, t := range tests {
		var r *Result
		if err := ctx.Err(); err != nil {
			r = &Result{Name: t.Name(), Suite: s.name, State: Failed, Fault: err}
		} else {
			r = s.runOne(ctx, t)
		}
		results = append(results, r)
		if s.opts.OnResult != nil {
			s.opts.OnResult(r)
		}
	}
	return results
}

func (s *Suite) runOne(ctx context.Context, t Test) *Result {
	defer timing.Start(ctx, s.name+"::"+t.Name()).End()

	r := &Result{
		Name:  t.Name(),
		Suite: s.name,
		State: InProgress,
		Start: time.Now(),
	}
	fmt.Fprintf(s.opts.Out, "TEST %s::%s ...\n", s.name, t.Name())
	logging.Infof(ctx, "Starting %s::%s", s.name, t.Name())

	r.Verdict, r.Fault = s.runInDir(ctx, t, r)
	r.End = time.Now()

	switch {
	case r.Fault != nil:
		r.State = Failed
		fmt.Fprintln(s.opts.Out, "TEST FAILED")
		if ft, ok := t.(FeatureTest); ok {
			fmt.Fprintln(s.opts.Out, "  Features used by test:", strings.Join(ft.Features(), ", "))
		}
		fmt.Fprintf(s.opts.Err, "%s::%s: %+v\n", s.name, t.Name(), r.Fault)
	case r.Verdict != nil && !r.Verdict.Passed:
		r.State = Failed
	default:
		r.State = Succeeded
	}

	if r.Dir != "" && (s.opts.Cleanup == CleanAlways || (s.opts.Cleanup == KeepFailed && r.State == Succeeded)) {
		if err := os.RemoveAll(r.Dir); err != nil {
			logging.Warningf(ctx, "Failed to clean %s: %v", r.Dir, err)
		}
	}

	fmt.Fprintf(s.opts.Out, "TEST %s::%s ... %s\n", s.name, t.Name(), r.State)
	logging.Infof(ctx, "%s::%s %s in %v", s.name, t.Name(), r.State, r.End.Sub(r.Start).Round(time.Millisecond))
	return r
}

// runInDir prepares the test directory, enters it and calls t. The previous
// working directory is restored before returning, whatever t does.
func (s *Suite) runInDir(ctx context.Context, t Test, r *Result) (v *verdict.Verdict, fault error) {
	dir, err := s.testDir(t.Name())
	if err != nil {
		return nil, err
	}
	r.Dir = dir

	prev, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	if err := os.Chdir(dir); err != nil {
		return nil, errors.Wrap(err, "failed to enter test directory")
	}
	defer func() {
		if err := os.Chdir(prev); err != nil && fault == nil {
			fault = errors.Wrap(err, "failed to restore working directory")
		}
	}()

	defer func() {
		if val := recover(); val != nil {
			v = nil
			fault = errors.Errorf("panic: %v\n%s", val, debug.Stack())
		}
	}()

	env := &Env{Suite: s.name, Name: t.Name(), Dir: dir, Out: s.opts.Out}
	v, err = t.Run(ctx, env)
	if err != nil {
		return v, errors.Wrap(err, "test failed to run")
	}
	if v != nil {
		v.Report(s.opts.Out)
		if !v.Passed {
			env.printLogs(s.opts.Out)
		}
	}
	return v, nil
}

// testDir creates the working directory for the named test.
func (s *Suite) testDir(name string) (string, error) {
	base := s.opts.BaseDir
	if base == "" {
		base = "."
	}
	dir, err := filepath.Abs(filepath.Join(base, s.name, name))
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(dir)
	switch {
	case err == nil && !fi.IsDir():
		return "", errors.Wrapf(ErrNotDirectory, "%s", dir)
	case err == nil:
		return dir, nil
	case !os.IsNotExist(err):
		return "", errors.Wrap(err, "failed to inspect test directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create test directory")
	}
	return dir, nil
}
