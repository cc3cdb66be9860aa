// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cluster

import (
	"context"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sync"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/shutil"
)

// BuildType is a CMake build type.
type BuildType string

// Supported build types.
const (
	Debug          BuildType = "Debug"
	Release        BuildType = "Release"
	RelWithDebInfo BuildType = "RelWithDebInfo"
)

// ValidBuildType reports whether s names a supported build type.
func ValidBuildType(s string) bool {
	switch BuildType(s) {
	case Debug, Release, RelWithDebInfo:
		return true
	}
	return false
}

// Dependencies understood by install-deps.sh.
var KnownDependencies = []string{"sst", "enet", "sirikata", "prox"}

// Patch set files written by CreatePatchset and consumed by ApplyPatchset.
const (
	CommitsPatchFile = ".commits.patch"
	ChangesPatchFile = ".changes.patch"
)

const (
	cmakeDir = "build/cmake"
	depsDir  = "dependencies"
)

// Builder checks out, patches and builds the simulator on every host.
// Each operation returns the summary exit code of its last remote step.
type Builder struct {
	ex    *Executor
	hosts []Host

	ccacheOnce sync.Once
	ccache     string
}

// NewBuilder returns a Builder acting on hosts.
func NewBuilder(ex *Executor, hosts []Host) *Builder {
	return &Builder{ex: ex, hosts: hosts}
}

// inCode runs stages in sequence inside sub, a path under each host's code
// directory.
func (b *Builder) inCode(ctx context.Context, sub string, stages ...shutil.Command) int {
	res := b.ex.RunEach(ctx, b.hosts, func(h Host) shutil.Command {
		return shutil.InDir(path.Join(b.ex.cfg.HostCodeDir(h), sub), shutil.Concat(stages...))
	})
	return res.SummaryCode()
}

// Destroy deletes the checkout.
func (b *Builder) Destroy(ctx context.Context) int {
	return b.ex.RunEach(ctx, b.hosts, func(h Host) shutil.Command {
		return shutil.Args("rm", "-rf", b.ex.cfg.HostCodeDir(h))
	}).SummaryCode()
}

// Checkout clones the configured repository into the code directory.
func (b *Builder) Checkout(ctx context.Context) int {
	return b.ex.RunEach(ctx, b.hosts, func(h Host) shutil.Command {
		return shutil.Args("git", "clone", b.ex.cfg.Repository, b.ex.cfg.HostCodeDir(h))
	}).SummaryCode()
}

// Update pulls from origin.
func (b *Builder) Update(ctx context.Context) int {
	return b.inCode(ctx, "", shutil.Args("git", "pull", "origin"))
}

// ApplyPatch copies a diff to every host and applies it with patch -p1.
func (b *Builder) ApplyPatch(ctx context.Context, patchFile string) int {
	return b.pushAndApply(ctx, patchFile, "", func(name string) shutil.Command {
		return shutil.Line("patch -p1 < " + shutil.Escape(name))
	})
}

// ApplyPatchMail copies a mailbox of commits to every host and applies it
// with git am.
func (b *Builder) ApplyPatchMail(ctx context.Context, patchFile string) int {
	return b.pushAndApply(ctx, patchFile, "", func(name string) shutil.Command {
		return shutil.Args("git", "am", name)
	})
}

func (b *Builder) pushAndApply(ctx context.Context, patchFile, sub string, apply func(name string) shutil.Command) int {
	name := filepath.Base(patchFile)
	if err := b.ex.Copy(ctx, b.hosts, patchFile, RemotePrefix+path.Join(sub, name)); err != nil {
		logging.Warningf(ctx, "Failed to copy %s: %v", patchFile, err)
		return ConnectFailure
	}
	return b.inCode(ctx, sub, apply(name))
}

// ResetToHead discards local modifications.
func (b *Builder) ResetToHead(ctx context.Context) int {
	return b.inCode(ctx, "", shutil.Args("git", "reset", "--hard", "HEAD"))
}

// ResetToOriginHead discards local commits and modifications.
func (b *Builder) ResetToOriginHead(ctx context.Context) int {
	return b.inCode(ctx, "", shutil.Args("git", "reset", "--hard", "origin/HEAD"))
}

// GitClean removes untracked files, including leftovers of an interrupted
// git am.
func (b *Builder) GitClean(ctx context.Context) int {
	return b.inCode(ctx, "", shutil.Args("rm", "-rf", ".dotest"), shutil.Args("git", "clean", "-f"))
}

// Dependencies builds the named dependencies, or all of them.
func (b *Builder) Dependencies(ctx context.Context, which ...string) int {
	return b.inCode(ctx, "", shutil.Args(append([]string{"./install-deps.sh"}, which...)...))
}

// UpdateDependencies updates the named dependencies, or all of them.
func (b *Builder) UpdateDependencies(ctx context.Context, which ...string) int {
	return b.inCode(ctx, "", shutil.Args(append([]string{"./install-deps.sh", "update"}, which...)...))
}

// PatchBuildDependency patches and reinstalls one dependency, then rebuilds
// the simulator against it. It stops at the first failing step.
func (b *Builder) PatchBuildDependency(ctx context.Context, dep, patchFile string, bt BuildType) int {
	sub := path.Join(depsDir, dep)
	code := b.pushAndApply(ctx, patchFile, sub, func(name string) shutil.Command {
		return shutil.Concat(
			shutil.Args("git", "reset", "--hard", "HEAD"),
			shutil.Line("patch -p1 < "+shutil.Escape(name)),
			shutil.Args("make"),
			shutil.Args("make", "install"))
	})
	if code != 0 {
		return code
	}
	if code := b.Clean(ctx); code != 0 {
		return code
	}
	return b.Build(ctx, bt)
}

// CCacheArgs returns the environment prefix that routes compilers through
// ccache, or "" if ccache is disabled or missing on any host. The hosts are
// probed once per Builder.
func (b *Builder) CCacheArgs(ctx context.Context) string {
	if !b.ex.cfg.CCache {
		return ""
	}
	b.ccacheOnce.Do(func() {
		res := b.ex.Run(ctx, b.hosts, shutil.Line("ls /usr/bin/ccache /usr/bin/g++ /usr/bin/gcc >/dev/null 2>&1"))
		if !res.Failed() {
			b.ccache = `CC="/usr/bin/ccache /usr/bin/gcc" CXX="/usr/bin/ccache /usr/bin/g++"`
		}
	})
	return b.ccache
}

// Build configures and compiles the simulator.
func (b *Builder) Build(ctx context.Context, bt BuildType) int {
	cmake := shutil.Args("cmake", "-DCMAKE_BUILD_TYPE="+string(bt), ".")
	if cc := b.CCacheArgs(ctx); cc != "" {
		cmake = shutil.Line(cc + " " + string(cmake))
	}
	return b.inCode(ctx, cmakeDir, cmake, shutil.Args("make", "-j2"))
}

// Clean removes build products and the CMake cache.
func (b *Builder) Clean(ctx context.Context) int {
	return b.inCode(ctx, cmakeDir, shutil.AndThen(shutil.Args("make", "clean"), shutil.Args("rm", "CMakeCache.txt")))
}

// CreatePatchset records the local tree's unpushed commits and uncommitted
// changes under dir as CommitsPatchFile and ChangesPatchFile.
func CreatePatchset(ctx context.Context, dir string) error {
	for _, step := range []struct {
		file string
		args []string
	}{
		{CommitsPatchFile, []string{"git", "format-patch", "--stdout", "origin/master"}},
		{ChangesPatchFile, []string{"git", "diff"}},
	} {
		f, err := os.Create(filepath.Join(dir, step.file))
		if err != nil {
			return err
		}
		cmd := exec.CommandContext(ctx, step.args[0], step.args[1:]...)
		cmd.Dir = dir
		cmd.Stdout = f
		runErr := cmd.Run()
		closeErr := f.Close()
		if runErr != nil {
			return errors.Wrapf(runErr, "%s failed", shutil.EscapeSlice(step.args))
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}

// ApplyPatchset reverts the hosts to origin and applies the non-empty patch
// files found in dir.
func (b *Builder) ApplyPatchset(ctx context.Context, dir string) int {
	if code := b.RevertPatchset(ctx); code != 0 {
		return code
	}
	var files []string
	var stages []shutil.Command
	for _, p := range []struct {
		file  string
		apply shutil.Command
	}{
		{CommitsPatchFile, shutil.Args("git", "am", CommitsPatchFile)},
		{ChangesPatchFile, shutil.Line("patch -p1 < " + ChangesPatchFile)},
	} {
		local := filepath.Join(dir, p.file)
		if fi, err := os.Stat(local); err != nil || fi.Size() == 0 {
			continue
		}
		files = append(files, local)
		stages = append(stages, p.apply)
	}
	if len(files) == 0 {
		logging.Info(ctx, "Patch set is empty")
		return 0
	}
	if err := b.ex.Copy(ctx, b.hosts, append(files, RemotePrefix+"./")...); err != nil {
		logging.Warningf(ctx, "Failed to copy patch set: %v", err)
		return ConnectFailure
	}
	return b.inCode(ctx, "", stages...)
}

// RevertPatchset returns every host to a clean origin/HEAD.
func (b *Builder) RevertPatchset(ctx context.Context) int {
	if code := b.ResetToOriginHead(ctx); code != 0 {
		return code
	}
	if code := b.GitClean(ctx); code != 0 {
		return code
	}
	return b.Update(ctx)
}

// FullBuild recreates the checkout from scratch and builds it.
func (b *Builder) FullBuild(ctx context.Context, bt BuildType) int {
	for _, step := range []func() int{
		func() int { return b.Destroy(ctx) },
		func() int { return b.Checkout(ctx) },
		func() int { return b.Update(ctx) },
		func() int { return b.Dependencies(ctx) },
		func() int { return b.UpdateDependencies(ctx) },
		func() int { return b.Build(ctx, bt) },
	} {
		if code := step(); code != 0 {
			return code
		}
	}
	return 0
}
