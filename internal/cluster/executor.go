// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cluster

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/procset"
	"go.sirikata.org/harness/shutil"
	"go.sirikata.org/harness/ssh"
)

// ConnectFailure is the exit code recorded for a host that could not be
// reached, matching the ssh client's own convention.
const ConnectFailure = 255

// RunResult holds one outcome per host, in the order the hosts were given.
type RunResult struct {
	Hosts []string
	// Codes are signed exit codes; -N means the command died by signal N.
	Codes []int
	// Outputs are the combined stdout and stderr of each host.
	Outputs []string
	// Errs are transport errors. A nil entry means Codes holds the
	// command's own status.
	Errs []error
}

// SummaryCode is 0 if every host succeeded and otherwise the first non-zero
// code in host order.
func (r *RunResult) SummaryCode() int {
	for _, c := range r.Codes {
		if c != 0 {
			return c
		}
	}
	return 0
}

// Failed reports whether any host returned non-zero.
func (r *RunResult) Failed() bool { return r.SummaryCode() != 0 }

// Code returns the code recorded for the named host.
func (r *RunResult) Code(host string) (int, bool) {
	for i, h := range r.Hosts {
		if h == host {
			return r.Codes[i], true
		}
	}
	return 0, false
}

// hostRunner runs one command on one host, writing combined output to out.
type hostRunner func(ctx context.Context, h Host, cmd shutil.Command, out io.Writer) (int, error)

// Executor runs commands on cluster hosts.
type Executor struct {
	cfg *Config
	run hostRunner
}

// NewExecutor returns an Executor for the hosts in cfg.
func NewExecutor(cfg *Config) *Executor {
	e := &Executor{cfg: cfg}
	e.run = e.runOnHost
	return e
}

// Config returns the configuration the Executor was built with.
func (e *Executor) Config() *Config { return e.cfg }

// Run runs cmds, joined with shutil.Concat, on every host in parallel.
// A failure on one host does not affect the others.
func (e *Executor) Run(ctx context.Context, hosts []Host, cmds ...shutil.Command) *RunResult {
	c := shutil.Concat(cmds...)
	return e.RunEach(ctx, hosts, func(Host) shutil.Command { return c })
}

// RunEach is like Run but builds each host's command with mk, which lets a
// command refer to host-specific paths such as the code directory.
func (e *Executor) RunEach(ctx context.Context, hosts []Host, mk func(h Host) shutil.Command) *RunResult {
	res := &RunResult{
		Hosts:   make([]string, len(hosts)),
		Codes:   make([]int, len(hosts)),
		Outputs: make([]string, len(hosts)),
		Errs:    make([]error, len(hosts)),
	}
	var g errgroup.Group
	if e.cfg.MaxParallel > 0 {
		g.SetLimit(e.cfg.MaxParallel)
	}
	for i, h := range hosts {
		i, h := i, h
		res.Hosts[i] = h.Name
		cmd := mk(h)
		g.Go(func() error {
			hctx := logging.WithPrefix(ctx, "["+h.Name+"] ")
			logging.Debugf(hctx, "Running %s", cmd)
			w := newLineLogger(hctx)
			code, err := e.run(hctx, h, cmd, w)
			w.Flush()
			if err != nil {
				logging.Warningf(hctx, "Failed: %v", err)
				if code == 0 {
					code = ConnectFailure
				}
			} else if code != 0 {
				logging.Infof(hctx, "Exited with %d", code)
			}
			res.Codes[i], res.Errs[i], res.Outputs[i] = code, err, w.String()
			return nil
		})
	}
	g.Wait()
	return res
}

func (e *Executor) runOnHost(ctx context.Context, h Host, cmd shutil.Command, out io.Writer) (int, error) {
	if h.Local() {
		return runLocal(ctx, cmd, out)
	}
	conn, err := e.dial(ctx, h)
	if err != nil {
		return ConnectFailure, err
	}
	defer conn.Close(ctx)
	code, err := conn.Run(ctx, cmd, ssh.IO{Stdout: out, Stderr: out})
	if err != nil {
		// The session failed before a status arrived.
		return ConnectFailure, err
	}
	return code, nil
}

func (e *Executor) dial(ctx context.Context, h Host) (*ssh.Conn, error) {
	o := ssh.Options{
		KeyFile:        e.cfg.SSH.KeyFile,
		KeyDir:         e.cfg.SSH.KeyDir,
		ConnectTimeout: e.cfg.SSH.ConnectTimeout,
		ConnectRetries: e.cfg.SSH.ConnectRetries,
		WarnFunc:       func(msg string) { logging.Warning(ctx, msg) },
	}
	if err := ssh.ParseTarget(h.Target, &o); err != nil {
		return nil, err
	}
	return ssh.New(ctx, &o)
}

// runLocal runs cmd with /bin/sh on this machine.
func runLocal(ctx context.Context, cmd shutil.Command, out io.Writer) (int, error) {
	c := exec.CommandContext(ctx, "/bin/sh", "-c", string(cmd))
	c.Stdout = out
	c.Stderr = out
	err := c.Run()
	if c.ProcessState == nil {
		return ConnectFailure, err
	}
	if ctx.Err() != nil {
		return procset.ExitCode(c.ProcessState), ctx.Err()
	}
	return procset.ExitCode(c.ProcessState), nil
}

// lineLogger logs complete output lines at debug level and keeps a copy.
type lineLogger struct {
	ctx context.Context

	mu      sync.Mutex
	all     bytes.Buffer
	pending []byte
}

func newLineLogger(ctx context.Context) *lineLogger { return &lineLogger{ctx: ctx} }

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all.Write(p)
	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		logging.Debug(l.ctx, string(l.pending[:i]))
		l.pending = l.pending[i+1:]
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := strings.TrimRight(string(l.pending), "\r"); s != "" {
		logging.Debug(l.ctx, s)
	}
	l.pending = nil
}

func (l *lineLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.all.String()
}
