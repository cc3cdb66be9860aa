// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cluster

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/shutil"
	"go.sirikata.org/harness/ssh"
	"go.sirikata.org/harness/ssh/linuxssh"
)

// RemotePrefix marks a Copy argument as a path on the hosts. A relative
// remote path is taken relative to the host's code directory.
const RemotePrefix = "remote:"

// Copy copies files between this machine and every host, scp style: the
// last path is the destination and the others are sources.
//
// To upload, the destination carries RemotePrefix and all sources are local.
// The destination is a directory when it ends in "/" or when several sources
// are given. To download, the single source carries RemotePrefix; with more
// than one host each copy is stored at the destination plus "." and the host
// name. Any failure aborts the transfer.
func (e *Executor) Copy(ctx context.Context, hosts []Host, paths ...string) error {
	if len(hosts) == 0 {
		return ErrNoHosts
	}
	if len(paths) < 2 {
		return errors.Errorf("copy needs a source and a destination, got %q", paths)
	}
	srcs, dst := paths[:len(paths)-1], paths[len(paths)-1]

	remoteSrcs := 0
	for _, s := range srcs {
		if strings.HasPrefix(s, RemotePrefix) {
			remoteSrcs++
		}
	}
	upload := strings.HasPrefix(dst, RemotePrefix)
	switch {
	case upload && remoteSrcs > 0:
		return errors.New("cannot copy between two remote paths")
	case !upload && remoteSrcs == 0:
		return errors.New("neither source nor destination is remote")
	case !upload && len(srcs) != 1:
		return errors.New("downloads take exactly one remote source")
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.MaxParallel > 0 {
		g.SetLimit(e.cfg.MaxParallel)
	}
	for _, h := range hosts {
		h := h
		g.Go(func() error {
			hctx := logging.WithPrefix(gctx, "["+h.Name+"] ")
			var err error
			if upload {
				err = e.upload(hctx, h, srcs, strings.TrimPrefix(dst, RemotePrefix))
			} else {
				local := dst
				if len(hosts) > 1 {
					local = dst + "." + h.Name
				}
				err = e.download(hctx, h, strings.TrimPrefix(srcs[0], RemotePrefix), local)
			}
			if err != nil {
				return errors.Wrapf(err, "copy on %s failed", h.Name)
			}
			return nil
		})
	}
	return g.Wait()
}

// plan maps each local source to its destination path on the host.
func plan(srcs []string, dst string) map[string]string {
	toDir := len(srcs) > 1 || strings.HasSuffix(dst, "/")
	m := make(map[string]string, len(srcs))
	for _, s := range srcs {
		if toDir {
			m[s] = filepath.Join(dst, filepath.Base(s))
		} else {
			m[s] = filepath.Clean(dst)
		}
	}
	return m
}

func (e *Executor) upload(ctx context.Context, h Host, srcs []string, dst string) error {
	if h.Local() {
		for s, d := range plan(srcs, e.localPath(h, dst)) {
			logging.Debugf(ctx, "Copying %s to %s", s, d)
			if err := copyPath(s, d); err != nil {
				return err
			}
		}
		return nil
	}
	conn, err := e.dial(ctx, h)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	base, err := e.remoteBase(ctx, conn, h)
	if err != nil {
		return err
	}
	files := plan(srcs, joinUnder(base, dst, strings.HasSuffix(dst, "/")))
	n, err := linuxssh.PutFiles(ctx, conn, files)
	if err != nil {
		return err
	}
	logging.Debugf(ctx, "Sent %d bytes", n)
	return nil
}

func (e *Executor) download(ctx context.Context, h Host, src, dst string) error {
	if h.Local() {
		return copyPath(e.localPath(h, src), dst)
	}
	conn, err := e.dial(ctx, h)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	base, err := e.remoteBase(ctx, conn, h)
	if err != nil {
		return err
	}
	return linuxssh.GetFile(ctx, conn, joinUnder(base, src, false), dst)
}

// localPath resolves p against the code directory of a local host.
func (e *Executor) localPath(h Host, p string) string {
	dir := strings.HasSuffix(p, "/")
	p = joinUnder(e.cfg.HostCodeDir(h), p, dir)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
		if dir {
			p += "/"
		}
	}
	return p
}

// remoteBase returns the absolute code directory on a remote host, looking
// up the login directory when the configured one is relative.
func (e *Executor) remoteBase(ctx context.Context, conn *ssh.Conn, h Host) (string, error) {
	dir := e.cfg.HostCodeDir(h)
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	out, code, err := conn.Output(ctx, shutil.Line(`printf %s "$HOME"`))
	if err != nil {
		return "", err
	}
	if code != 0 || len(out) == 0 {
		return "", errors.Errorf("cannot determine home directory (status %d)", code)
	}
	return filepath.Join(string(out), dir), nil
}

// joinUnder resolves p against base unless p is absolute, keeping a trailing
// slash when dir is set.
func joinUnder(base, p string, dir bool) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	if dir {
		p += "/"
	}
	return p
}

// copyPath copies a file or directory tree from src to dst, replacing
// regular files and creating directories as needed.
func copyPath(src, dst string) error {
	dst = filepath.Clean(dst)
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return copyFile(src, dst, fi.Mode())
	}
	return filepath.Walk(src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		return copyFile(p, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
