// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package procset

import (
	"io"
	"math"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// NoExitCode is reported for a process that has not exited.
const NoExitCode = math.MinInt32

// outputDrainTimeout bounds how long output is still collected after a
// process exits while its descendants keep the pipes open.
const outputDrainTimeout = 2 * time.Second

// Proc is a process started by a Set. Each Proc leads its own session so
// that it and everything it spawns can be signaled together.
type Proc struct {
	name string
	cmd  *exec.Cmd

	done    chan struct{}
	code    int
	files   []io.Closer
	waitErr error
}

func startProc(args []string, o *spawnOptions) (*Proc, error) {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}
	cmd.Stdout = o.stdout
	cmd.Stderr = o.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.WaitDelay = outputDrainTimeout

	p := &Proc{name: args[0], cmd: cmd, done: make(chan struct{}), code: NoExitCode, files: o.files}
	if o.name != "" {
		p.name = o.name
	}
	if err := cmd.Start(); err != nil {
		p.closeFiles()
		return nil, err
	}
	go func() {
		p.waitErr = cmd.Wait()
		p.code = ExitCode(cmd.ProcessState)
		p.closeFiles()
		close(p.done)
	}()
	return p, nil
}

func (p *Proc) closeFiles() {
	for _, f := range p.files {
		f.Close()
	}
}

// Name returns the label used in logs.
func (p *Proc) Name() string { return p.name }

// Pid returns the process ID, which is also its session ID.
func (p *Proc) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited and its output is flushed.
func (p *Proc) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Proc) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the signed exit code, or NoExitCode while running.
func (p *Proc) ExitCode() int {
	if !p.Exited() {
		return NoExitCode
	}
	return p.code
}

// signalGroup sends sig to the process group the process leads.
func (p *Proc) signalGroup(sig unix.Signal) error {
	return unix.Kill(-p.Pid(), sig)
}

// kill sends SIGKILL to the process group and then to every process left
// in the session, and waits for the leader to be reaped.
func (p *Proc) kill() {
	p.signalGroup(unix.SIGKILL)
	killSession(p.Pid(), unix.SIGKILL)
	<-p.done
}

// listPids is replaced in tests.
var listPids = process.Pids

// killSession signals every process whose session ID is sid. A few passes
// are made to catch processes forked while the previous pass ran.
func killSession(sid int, sig unix.Signal) {
	for pass := 0; pass < 3; pass++ {
		pids, err := listPids()
		if err != nil {
			return
		}
		found := false
		for _, pid := range pids {
			if s, err := unix.Getsid(int(pid)); err == nil && s == sid {
				unix.Kill(int(pid), sig)
				found = true
			}
		}
		if !found {
			return
		}
	}
}

// ExitCode converts a finished process's state to a signed exit code:
// the exit status, or -N when signal N terminated it.
func ExitCode(ps *os.ProcessState) int {
	if ps == nil {
		return NoExitCode
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}
