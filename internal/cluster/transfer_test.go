// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cluster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.sirikata.org/harness/internal/sshtest"
	"go.sirikata.org/harness/testutil"
)

func TestCopyUploadLocal(t *testing.T) {
	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{
		"a.txt":     "alpha",
		"b.txt":     "bravo",
		"dir/c.txt": "charlie",
	}); err != nil {
		t.Fatal(err)
	}
	codeA, codeB := testutil.TempDir(t), testutil.TempDir(t)
	cfg := &Config{Hosts: []Host{
		{Name: "a", CodeDir: codeA},
		{Name: "b", CodeDir: codeB},
	}}
	e := NewExecutor(cfg)
	ctx := context.Background()

	if err := e.Copy(ctx, cfg.Hosts, filepath.Join(src, "a.txt"), RemotePrefix+"renamed.txt"); err != nil {
		t.Fatal("Copy to file failed: ", err)
	}
	if err := e.Copy(ctx, cfg.Hosts, filepath.Join(src, "a.txt"), filepath.Join(src, "b.txt"), RemotePrefix+"sub"); err != nil {
		t.Fatal("Copy of two files failed: ", err)
	}
	if err := e.Copy(ctx, cfg.Hosts, filepath.Join(src, "dir"), RemotePrefix+"tree/"); err != nil {
		t.Fatal("Copy of directory failed: ", err)
	}

	want := map[string]string{
		"renamed.txt":    "alpha",
		"sub/a.txt":      "alpha",
		"sub/b.txt":      "bravo",
		"tree/dir/c.txt": "charlie",
	}
	for _, dir := range []string{codeA, codeB} {
		got, err := testutil.ReadFiles(dir)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("Files in %s mismatch (-got +want):\n%s", dir, diff)
		}
	}
}

func TestCopyDownloadLocal(t *testing.T) {
	codeA, codeB := testutil.TempDir(t), testutil.TempDir(t)
	for dir, content := range map[string]string{codeA: "from a", codeB: "from b"} {
		if err := testutil.WriteFiles(dir, map[string]string{"log/out.txt": content}); err != nil {
			t.Fatal(err)
		}
	}
	dst := testutil.TempDir(t)
	ctx := context.Background()

	single := &Config{Hosts: []Host{{Name: "a", CodeDir: codeA}}}
	if err := NewExecutor(single).Copy(ctx, single.Hosts, RemotePrefix+"log/out.txt", filepath.Join(dst, "one.txt")); err != nil {
		t.Fatal("Copy from one host failed: ", err)
	}

	both := &Config{Hosts: []Host{{Name: "a", CodeDir: codeA}, {Name: "b", CodeDir: codeB}}}
	if err := NewExecutor(both).Copy(ctx, both.Hosts, RemotePrefix+"log/out.txt", filepath.Join(dst, "out.txt")); err != nil {
		t.Fatal("Copy from two hosts failed: ", err)
	}

	got, err := testutil.ReadFiles(dst)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"one.txt":   "from a",
		"out.txt.a": "from a",
		"out.txt.b": "from b",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Downloaded files mismatch (-got +want):\n%s", diff)
	}
}

func TestCopyInvalid(t *testing.T) {
	cfg := localConfig("a")
	e := NewExecutor(cfg)
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		hosts []Host
		paths []string
	}{
		{"noHosts", nil, []string{"x", RemotePrefix + "y"}},
		{"onePath", cfg.Hosts, []string{RemotePrefix + "y"}},
		{"bothRemote", cfg.Hosts, []string{RemotePrefix + "x", RemotePrefix + "y"}},
		{"neitherRemote", cfg.Hosts, []string{"x", "y"}},
		{"twoRemoteSources", cfg.Hosts, []string{RemotePrefix + "x", RemotePrefix + "y", "z"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.Copy(ctx, tc.hosts, tc.paths...); err == nil {
				t.Errorf("Copy(%q) succeeded unexpectedly", tc.paths)
			}
		})
	}
}

func TestCopyMissingSource(t *testing.T) {
	cfg := &Config{Hosts: []Host{{Name: "a", CodeDir: testutil.TempDir(t)}}}
	err := NewExecutor(cfg).Copy(context.Background(), cfg.Hosts, filepath.Join(testutil.TempDir(t), "missing"), RemotePrefix+"x")
	if err == nil {
		t.Error("Copy of a missing file succeeded unexpectedly")
	}
}

func TestCopyRemote(t *testing.T) {
	env := sshtest.NewEnv(t, sshtest.RealCmdHandler)
	code := testutil.TempDir(t)
	cfg := &Config{
		Hosts: []Host{{Name: "remote", Target: env.Target(), CodeDir: code}},
		SSH:   SSHConfig{KeyFile: env.KeyFile, ConnectTimeout: 5 * time.Second},
	}
	e := NewExecutor(cfg)
	ctx := context.Background()

	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{"patch.diff": "--- a\n+++ b\n"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Copy(ctx, cfg.Hosts, filepath.Join(src, "patch.diff"), RemotePrefix+"deps/patch.diff"); err != nil {
		t.Fatal("Upload failed: ", err)
	}
	b, err := os.ReadFile(filepath.Join(code, "deps/patch.diff"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "--- a\n+++ b\n" {
		t.Errorf("Uploaded content = %q", b)
	}

	dst := filepath.Join(testutil.TempDir(t), "back.diff")
	if err := e.Copy(ctx, cfg.Hosts, RemotePrefix+"deps/patch.diff", dst); err != nil {
		t.Fatal("Download failed: ", err)
	}
	if b, err := os.ReadFile(dst); err != nil {
		t.Error(err)
	} else if string(b) != "--- a\n+++ b\n" {
		t.Errorf("Downloaded content = %q", b)
	}
}
