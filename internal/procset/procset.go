// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package procset starts the processes of one simulation run and stops them
// when the run's time budget is spent.
//
// One process of a Set may be marked as the default. Wait watches only the
// default process: it hangs it up when the run's duration expires and kills
// its whole session if it is still alive at the kill deadline. Other
// processes are left alone until StopAll or Close.
package procset

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/shutil"
)

// clk is replaced in unit tests.
var clk clock.Clock = clock.NewClock()

// ErrNoDefault is returned by Wait when no process was marked as default.
var ErrNoDefault = errors.New("no default process")

type spawnOptions struct {
	name      string
	dir       string
	env       []string
	stdout    io.Writer
	stderr    io.Writer
	files     []io.Closer
	wait      bool
	isDefault bool
	openErr   error
}

// Option configures Set.Process.
type Option func(o *spawnOptions)

// Name sets the label used in logs. Defaults to the program name.
func Name(n string) Option { return func(o *spawnOptions) { o.name = n } }

// Dir sets the working directory.
func Dir(d string) Option { return func(o *spawnOptions) { o.dir = d } }

// Env adds "KEY=value" entries to the inherited environment.
func Env(kv ...string) Option { return func(o *spawnOptions) { o.env = append(o.env, kv...) } }

// Stdout sends standard output to w.
func Stdout(w io.Writer) Option { return func(o *spawnOptions) { o.stdout = w } }

// Stderr sends standard error to w.
func Stderr(w io.Writer) Option { return func(o *spawnOptions) { o.stderr = w } }

// Output sends both standard output and standard error to w.
func Output(w io.Writer) Option {
	return func(o *spawnOptions) { o.stdout, o.stderr = w, w }
}

// LogFile appends both output streams to the file at path. The file is
// closed as soon as the process exits.
func LogFile(path string) Option {
	return func(o *spawnOptions) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			o.openErr = err
			return
		}
		o.stdout, o.stderr = f, f
		o.files = append(o.files, f)
	}
}

// WaitExit makes Process block until the process exits, as for setup steps.
func WaitExit() Option { return func(o *spawnOptions) { o.wait = true } }

// Default marks the process as the one Wait watches.
func Default() Option { return func(o *spawnOptions) { o.isDefault = true } }

// Set is the group of processes belonging to one run.
type Set struct {
	mu     sync.Mutex
	procs  []*Proc
	def    *Proc
	hupped bool
	killed bool
}

// New returns an empty Set.
func New() *Set { return &Set{} }

// Process starts args[0] with args[1:]. Marking a second process as default
// is an error.
func (s *Set) Process(ctx context.Context, args []string, opts ...Option) (*Proc, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command line")
	}
	var o spawnOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.openErr != nil {
		for _, f := range o.files {
			f.Close()
		}
		return nil, errors.Wrap(o.openErr, "failed to open log file")
	}

	s.mu.Lock()
	if o.isDefault && s.def != nil {
		s.mu.Unlock()
		return nil, errors.Errorf("%s is already the default process", s.def.name)
	}
	s.mu.Unlock()

	logging.Debugf(ctx, "Starting %s", shutil.EscapeSlice(args))
	p, err := startProc(args, &o)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", args[0])
	}

	s.mu.Lock()
	s.procs = append(s.procs, p)
	if o.isDefault {
		s.def = p
	}
	s.mu.Unlock()

	if o.wait {
		select {
		case <-p.done:
			logging.Debugf(ctx, "%s exited with %d", p.name, p.code)
		case <-ctx.Done():
			p.kill()
			return p, ctx.Err()
		}
	}
	return p, nil
}

// Sleep pauses for a fixed grace period, e.g. to let a server start when no
// readiness probe is available.
func (s *Set) Sleep(ctx context.Context, d time.Duration) error {
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the default process exits.
//
// If it is still running after until, it is sent SIGHUP and Hupped starts
// reporting true. If it is still running after killAt, measured from the
// same start as until, its session is killed and Killed starts reporting
// true. A killAt earlier than until is treated as until. When out is non-nil
// a line describing each escalation is written to it.
//
// If ctx is done first the default process is killed and ctx.Err() returned;
// the flags are left unchanged.
func (s *Set) Wait(ctx context.Context, until, killAt time.Duration, out io.Writer) error {
	s.mu.Lock()
	def := s.def
	s.mu.Unlock()
	if def == nil {
		return ErrNoDefault
	}
	if killAt < until {
		killAt = until
	}

	expired, err := waitFor(ctx, def, until)
	if err != nil || !expired {
		return err
	}
	note(ctx, out, "%s still running after %v; sending SIGHUP", def.name, until)
	s.mu.Lock()
	s.hupped = true
	s.mu.Unlock()
	if err := def.signalGroup(unix.SIGHUP); err != nil && !def.Exited() {
		logging.Warningf(ctx, "Failed to hang up %s: %v", def.name, err)
	}

	expired, err = waitFor(ctx, def, killAt-until)
	if err != nil || !expired {
		return err
	}
	note(ctx, out, "%s still running after %v; killing it", def.name, killAt)
	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()
	def.kill()
	return nil
}

// waitFor waits up to d for p to exit and reports whether d expired first.
func waitFor(ctx context.Context, p *Proc, d time.Duration) (expired bool, err error) {
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return false, nil
	case <-t.C():
		return true, nil
	case <-ctx.Done():
		p.kill()
		return false, ctx.Err()
	}
}

func note(ctx context.Context, out io.Writer, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logging.Info(ctx, msg)
	if out != nil {
		fmt.Fprintln(out, msg)
	}
}

// StopAll stops every process that is still running: SIGTERM to its process
// group, then SIGKILL to its session once grace has passed.
func (s *Set) StopAll(ctx context.Context, grace time.Duration) {
	for _, p := range s.Procs() {
		if p.Exited() {
			continue
		}
		logging.Debugf(ctx, "Stopping %s", p.name)
		p.signalGroup(unix.SIGTERM)
	}
	t := clk.NewTimer(grace)
	defer t.Stop()
	expired := false
	for _, p := range s.Procs() {
		if expired {
			p.kill()
			continue
		}
		select {
		case <-p.done:
		case <-t.C():
			expired = true
			p.kill()
		case <-ctx.Done():
			expired = true
			p.kill()
		}
	}
}

// Close kills whatever is left in every process's session.
func (s *Set) Close() {
	for _, p := range s.Procs() {
		p.kill()
	}
}

// Procs returns the started processes in start order.
func (s *Set) Procs() []*Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Proc(nil), s.procs...)
}

// DefaultProc returns the default process, or nil.
func (s *Set) DefaultProc() *Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def
}

// ReturnCode is the default process's signed exit code, or NoExitCode if
// there is none or it is still running.
func (s *Set) ReturnCode() int {
	if p := s.DefaultProc(); p != nil {
		return p.ExitCode()
	}
	return NoExitCode
}

// Hupped reports whether Wait sent SIGHUP to the default process.
func (s *Set) Hupped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hupped
}

// Killed reports whether Wait killed the default process.
func (s *Set) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// TimedOut reports whether the default process outlived its duration,
// whether or not SIGHUP alone was enough to stop it.
func (s *Set) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hupped || s.killed
}
