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
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.sirikata.org/harness/shutil"
	"go.sirikata.org/harness/testutil"
)

// recorder stands in for the host runner and remembers every command.
type recorder struct {
	mu   sync.Mutex
	cmds map[string][]string
	// fail returns the status for a command; nil means always 0.
	fail func(cmd string) int
}

func newRecorder(e *Executor) *recorder {
	r := &recorder{cmds: make(map[string][]string)}
	e.run = func(ctx context.Context, h Host, cmd shutil.Command, out io.Writer) (int, error) {
		r.mu.Lock()
		r.cmds[h.Name] = append(r.cmds[h.Name], string(cmd))
		r.mu.Unlock()
		if r.fail != nil {
			return r.fail(string(cmd)), nil
		}
		return 0, nil
	}
	return r
}

func (r *recorder) host(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cmds[name]...)
}

func newTestBuilder(t *testing.T) (*Builder, *recorder, string) {
	code := testutil.TempDir(t)
	cfg := &Config{
		Hosts:      []Host{{Name: "h1", CodeDir: code}},
		CodeDir:    DefaultCodeDir,
		Repository: "git://example.org/cbr.git",
	}
	e := NewExecutor(cfg)
	return NewBuilder(e, cfg.Hosts), newRecorder(e), code
}

func TestBuilderCommands(t *testing.T) {
	ctx := context.Background()
	b, rec, code := newTestBuilder(t)
	in := func(sub string, cmds ...shutil.Command) string {
		return string(shutil.InDir(filepath.Join(code, sub), shutil.Concat(cmds...)))
	}

	b.Destroy(ctx)
	b.Checkout(ctx)
	b.Update(ctx)
	b.ResetToHead(ctx)
	b.ResetToOriginHead(ctx)
	b.GitClean(ctx)
	b.Dependencies(ctx, "sst", "enet")
	b.UpdateDependencies(ctx)
	b.Build(ctx, Release)
	b.Clean(ctx)

	want := []string{
		"rm -rf " + code,
		"git clone git://example.org/cbr.git " + code,
		in("", "git pull origin"),
		in("", "git reset --hard HEAD"),
		in("", "git reset --hard origin/HEAD"),
		in("", "rm -rf .dotest", "git clean -f"),
		in("", "./install-deps.sh sst enet"),
		in("", "./install-deps.sh update"),
		in("build/cmake", "cmake -DCMAKE_BUILD_TYPE=Release .", "make -j2"),
		in("build/cmake", "make clean && rm CMakeCache.txt"),
	}
	if diff := cmp.Diff(rec.host("h1"), want); diff != "" {
		t.Errorf("Commands mismatch (-got +want):\n%s", diff)
	}
}

func TestBuilderCCache(t *testing.T) {
	ctx := context.Background()
	b, rec, _ := newTestBuilder(t)
	b.ex.cfg.CCache = true

	b.Build(ctx, Debug)
	b.Build(ctx, Debug)

	cmds := rec.host("h1")
	probes := 0
	for _, c := range cmds {
		if strings.HasPrefix(c, "ls /usr/bin/ccache") {
			probes++
		}
	}
	if probes != 1 {
		t.Errorf("ccache probed %d times; want 1", probes)
	}
	if last := cmds[len(cmds)-1]; !strings.Contains(last, `CC="/usr/bin/ccache /usr/bin/gcc" CXX="/usr/bin/ccache /usr/bin/g++" cmake`) {
		t.Errorf("Build command %q does not use ccache", last)
	}
}

func TestBuilderCCacheMissing(t *testing.T) {
	ctx := context.Background()
	b, rec, _ := newTestBuilder(t)
	b.ex.cfg.CCache = true
	rec.fail = func(cmd string) int {
		if strings.HasPrefix(cmd, "ls ") {
			return 2
		}
		return 0
	}
	if cc := b.CCacheArgs(ctx); cc != "" {
		t.Errorf("CCacheArgs() = %q; want empty", cc)
	}
}

func TestBuilderApplyPatch(t *testing.T) {
	ctx := context.Background()
	b, rec, code := newTestBuilder(t)
	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{"fix.diff": "diff"}); err != nil {
		t.Fatal(err)
	}
	if got := b.ApplyPatch(ctx, filepath.Join(src, "fix.diff")); got != 0 {
		t.Fatalf("ApplyPatch returned %d", got)
	}
	if _, err := os.Stat(filepath.Join(code, "fix.diff")); err != nil {
		t.Error("Patch was not copied: ", err)
	}
	want := []string{string(shutil.InDir(code, "patch -p1 < fix.diff"))}
	if diff := cmp.Diff(rec.host("h1"), want); diff != "" {
		t.Errorf("Commands mismatch (-got +want):\n%s", diff)
	}
}

func TestBuilderPatchBuildDependencyStopsOnFailure(t *testing.T) {
	ctx := context.Background()
	b, rec, code := newTestBuilder(t)
	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{"sst.diff": "diff"}); err != nil {
		t.Fatal(err)
	}
	rec.fail = func(cmd string) int {
		if strings.Contains(cmd, "make install") {
			return 2
		}
		return 0
	}
	if got := b.PatchBuildDependency(ctx, "sst", filepath.Join(src, "sst.diff"), Debug); got != 2 {
		t.Errorf("PatchBuildDependency returned %d; want 2", got)
	}
	if _, err := os.Stat(filepath.Join(code, "dependencies/sst/sst.diff")); err != nil {
		t.Error("Patch was not copied into the dependency: ", err)
	}
	if n := len(rec.host("h1")); n != 1 {
		t.Errorf("Ran %d commands after a failed dependency build; want 1", n)
	}
}

func TestBuilderFullBuildStopsOnFailure(t *testing.T) {
	ctx := context.Background()
	b, rec, _ := newTestBuilder(t)
	rec.fail = func(cmd string) int {
		if strings.Contains(cmd, "git pull") {
			return 1
		}
		return 0
	}
	if got := b.FullBuild(ctx, Debug); got != 1 {
		t.Errorf("FullBuild returned %d; want 1", got)
	}
	if n := len(rec.host("h1")); n != 3 {
		t.Errorf("FullBuild ran %d commands; want 3", n)
	}
}

func TestBuilderPatchset(t *testing.T) {
	ctx := context.Background()
	b, rec, code := newTestBuilder(t)

	// An empty patch set only reverts.
	empty := testutil.TempDir(t)
	if got := b.ApplyPatchset(ctx, empty); got != 0 {
		t.Fatalf("ApplyPatchset returned %d", got)
	}
	if n := len(rec.host("h1")); n != 3 {
		t.Errorf("Empty patch set ran %d commands; want 3", n)
	}

	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{ChangesPatchFile: "diff", CommitsPatchFile: ""}); err != nil {
		t.Fatal(err)
	}
	if got := b.ApplyPatchset(ctx, dir); got != 0 {
		t.Fatalf("ApplyPatchset returned %d", got)
	}
	cmds := rec.host("h1")
	if last, want := cmds[len(cmds)-1], string(shutil.InDir(code, "patch -p1 < "+ChangesPatchFile)); last != want {
		t.Errorf("Last command = %q; want %q", last, want)
	}
	if _, err := os.Stat(filepath.Join(code, ChangesPatchFile)); err != nil {
		t.Error("Changes patch was not copied: ", err)
	}
	if _, err := os.Stat(filepath.Join(code, CommitsPatchFile)); err == nil {
		t.Error("Empty commits patch was copied")
	}
}

func TestParseOps(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want []Op
	}{
		{nil, nil},
		{[]string{"update", "build"}, []Op{{Name: "update"}, {Name: "build"}}},
		{[]string{"build", "Release", "clean"}, []Op{{Name: "build", Args: []string{"Release"}}, {Name: "clean"}}},
		{[]string{"dependencies", "sst", "prox", "build"}, []Op{{Name: "dependencies", Args: []string{"sst", "prox"}}, {Name: "build"}}},
		{[]string{"patch", "a.diff", "patchmail", "b.mbox"}, []Op{{Name: "patch", Args: []string{"a.diff"}}, {Name: "patchmail", Args: []string{"b.mbox"}}}},
		{[]string{"patch_build_enet", "e.diff", "RelWithDebInfo"}, []Op{{Name: "patch_build_enet", Args: []string{"e.diff", "RelWithDebInfo"}}}},
	} {
		got, err := ParseOps(tc.args)
		if err != nil {
			t.Errorf("ParseOps(%q) failed: %v", tc.args, err)
			continue
		}
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("ParseOps(%q) mismatch (-got +want):\n%s", tc.args, diff)
		}
	}
}

func TestParseOpsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"frobnicate"},
		{"patch"},
		{"build", "Fast"},
	} {
		if _, err := ParseOps(args); err == nil {
			t.Errorf("ParseOps(%q) succeeded unexpectedly", args)
		}
	}
}

func TestDoAllStopsOnFailure(t *testing.T) {
	ctx := context.Background()
	b, rec, _ := newTestBuilder(t)
	rec.fail = func(cmd string) int {
		if strings.Contains(cmd, "reset --hard HEAD") {
			return 6
		}
		return 0
	}
	ops := []Op{{Name: "update"}, {Name: "reset"}, {Name: "clean"}}
	if got := b.DoAll(ctx, ops, ""); got != 6 {
		t.Errorf("DoAll returned %d; want 6", got)
	}
	if n := len(rec.host("h1")); n != 2 {
		t.Errorf("DoAll ran %d commands; want 2", n)
	}
}
