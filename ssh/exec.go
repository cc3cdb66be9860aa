// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"bytes"
	"context"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/shutil"
)

// Handle is a command started on the remote host.
type Handle struct {
	sess *ssh.Session
	cmd  shutil.Command
}

// IO holds the streams attached to a remote command. Nil writers discard
// output and a nil reader supplies no input.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Start begins running cmd through the remote user's shell.
func (c *Conn) Start(ctx context.Context, cmd shutil.Command, st IO) (*Handle, error) {
	var sess *ssh.Session
	if err := doAsync(ctx, func() error {
		var err error
		sess, err = c.cl.NewSession()
		return err
	}, func() {
		if sess != nil {
			sess.Close()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "failed to open session")
	}
	sess.Stdin = st.Stdin
	sess.Stdout = st.Stdout
	sess.Stderr = st.Stderr

	if err := doAsync(ctx, func() error {
		return sess.Start(string(cmd))
	}, func() { sess.Close() }); err != nil {
		return nil, errors.Wrapf(err, "failed to start %q", cmd)
	}
	return &Handle{sess: sess, cmd: cmd}, nil
}

// Wait blocks until the command finishes and returns its exit code. A
// command killed by signal N yields -N. An error is returned only when the
// status could not be determined; on ctx expiry the command is killed.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	var waitErr error
	err := doAsync(ctx, func() error {
		waitErr = h.sess.Wait()
		return nil
	}, nil)
	if err != nil {
		h.Abort()
		return -1, err
	}
	defer h.sess.Close()
	return exitCode(waitErr)
}

// Abort kills the remote command and closes its session.
func (h *Handle) Abort() {
	h.sess.Signal(ssh.SIGKILL)
	h.sess.Close()
}

// Run runs cmd to completion and returns its exit code. See Handle.Wait.
func (c *Conn) Run(ctx context.Context, cmd shutil.Command, st IO) (int, error) {
	h, err := c.Start(ctx, cmd, st)
	if err != nil {
		return -1, err
	}
	return h.Wait(ctx)
}

// Output runs cmd and returns its stdout along with the exit code.
func (c *Conn) Output(ctx context.Context, cmd shutil.Command) ([]byte, int, error) {
	var stdout bytes.Buffer
	code, err := c.Run(ctx, cmd, IO{Stdout: &stdout})
	return stdout.Bytes(), code, err
}

// exitCode converts the result of ssh.Session.Wait to a signed exit code.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *ssh.ExitError
	if !errors.As(err, &ee) {
		return -1, errors.Wrap(err, "lost remote command status")
	}
	if name := ee.Signal(); name != "" {
		if sig := unix.SignalNum("SIG" + strings.TrimPrefix(name, "SIG")); sig != 0 {
			return -int(sig), nil
		}
	}
	return ee.ExitStatus(), nil
}
