// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package linuxssh copies files between the local machine and a Linux host
// by streaming tar archives over an SSH session.
package linuxssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/shutil"
	"go.sirikata.org/harness/ssh"
)

// PutFiles copies local files or directories to the host. files maps local
// paths (absolute or relative to the working directory) to absolute remote
// paths. It returns the number of compressed bytes sent.
func PutFiles(ctx context.Context, conn *ssh.Conn, files map[string]string) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}
	locals := make([]string, 0, len(files))
	abs := make(map[string]string, len(files))
	for l, r := range files {
		al, err := filepath.Abs(l)
		if err != nil {
			return 0, errors.Wrapf(err, "cannot resolve %q", l)
		}
		if _, err := os.Stat(al); err != nil {
			return 0, errors.Wrap(err, "missing local file")
		}
		if !filepath.IsAbs(r) {
			return 0, errors.Errorf("remote path %q is not absolute", r)
		}
		abs[al] = filepath.Clean(r)
		locals = append(locals, al)
	}
	sort.Strings(locals)

	args := []string{"-c", "--gzip", "-C", "/"}
	for _, l := range locals {
		args = append(args, renameFlag(strings.TrimPrefix(l, "/"), strings.TrimPrefix(abs[l], "/")))
	}
	for _, l := range locals {
		args = append(args, strings.TrimPrefix(l, "/"))
	}
	tar := exec.CommandContext(ctx, "tar", args...)
	var tarErr bytes.Buffer
	tar.Stderr = &tarErr
	out, err := tar.StdoutPipe()
	if err != nil {
		return 0, errors.Wrap(err, "failed to open tar pipe")
	}
	if err := tar.Start(); err != nil {
		return 0, errors.Wrap(err, "failed to run local tar")
	}
	defer tar.Wait()
	defer unix.Kill(tar.Process.Pid, unix.SIGKILL)

	cr := &countingReader{r: out}
	var remoteErr bytes.Buffer
	code, err := conn.Run(ctx, shutil.Args("tar", "-x", "--gzip", "--no-same-owner", "--recursive-unlink", "-p", "-C", "/"),
		ssh.IO{Stdin: cr, Stderr: &remoteErr})
	if err != nil {
		return cr.n, err
	}
	if code != 0 {
		return cr.n, errors.Errorf("remote tar exited with %d: %s %s", code, strings.TrimSpace(remoteErr.String()), strings.TrimSpace(tarErr.String()))
	}
	return cr.n, nil
}

// GetFile copies the remote file or directory src to the local path dst,
// replacing dst if it exists.
func GetFile(ctx context.Context, conn *ssh.Conn, src, dst string) error {
	src = filepath.Clean(src)
	dst = filepath.Clean(dst)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	stage, err := os.MkdirTemp(filepath.Dir(dst), filepath.Base(dst)+".")
	if err != nil {
		return errors.Wrap(err, "failed to create staging dir")
	}
	defer os.RemoveAll(stage)

	tar := exec.CommandContext(ctx, "tar", "-x", "--gzip", "--no-same-owner", "-p", "-C", stage)
	in, err := tar.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open tar pipe")
	}
	var tarErr bytes.Buffer
	tar.Stderr = &tarErr
	if err := tar.Start(); err != nil {
		return errors.Wrap(err, "failed to run local tar")
	}

	var remoteErr bytes.Buffer
	code, runErr := conn.Run(ctx, shutil.Args("tar", "-c", "--gzip", "-C", filepath.Dir(src), filepath.Base(src)),
		ssh.IO{Stdout: in, Stderr: &remoteErr})
	in.Close()
	waitErr := tar.Wait()
	switch {
	case runErr != nil:
		return runErr
	case code != 0:
		return errors.Errorf("remote tar exited with %d: %s", code, strings.TrimSpace(remoteErr.String()))
	case waitErr != nil:
		return errors.Wrapf(waitErr, "local tar failed: %s", strings.TrimSpace(tarErr.String()))
	}

	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(filepath.Join(stage, filepath.Base(src)), dst)
}

// renameFlag returns a GNU tar --transform flag that stores path from as to.
// Only from itself and paths below it are renamed, never fromXYZ.
func renameFlag(from, to string) string {
	quote := func(s string, chars string) string {
		for _, c := range chars {
			s = strings.ReplaceAll(s, string(c), `\`+string(c))
		}
		return s
	}
	return fmt.Sprintf(`--transform=s,^%s\($\|/\),%s\1,`, quote(regexp.QuoteMeta(from), ","), quote(to, `\,&`))
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
