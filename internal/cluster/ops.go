// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cluster

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
)

// Op is one builder operation parsed from the command line.
type Op struct {
	Name string
	Args []string
}

func (o Op) String() string {
	return strings.TrimSpace(o.Name + " " + strings.Join(o.Args, " "))
}

// opArity describes how many arguments an operation consumes: required
// arguments first, then optional ones accepted while they satisfy optOK.
type opArity struct {
	required int
	optOK    func(string) bool
	many     bool
}

var opTable = map[string]opArity{
	"destroy":             {},
	"checkout":            {},
	"update":              {},
	"dependencies":        {optOK: isDependency, many: true},
	"update_dependencies": {optOK: isDependency, many: true},
	"patch_build_sst":     {required: 1, optOK: ValidBuildType},
	"patch_build_enet":    {required: 1, optOK: ValidBuildType},
	"build":               {optOK: ValidBuildType},
	"patch":               {required: 1},
	"patchmail":           {required: 1},
	"reset":               {},
	"reset_origin":        {},
	"git_clean":           {},
	"clean":               {},
	"fullbuild":           {optOK: ValidBuildType},
	"patchset_create":     {},
	"patchset_apply":      {},
	"patchset_revert":     {},
}

func isDependency(s string) bool { return slices.Contains(KnownDependencies, s) }

// OpNames returns the recognized operation names in sorted order.
func OpNames() []string {
	names := maps.Keys(opTable)
	slices.Sort(names)
	return names
}

// ParseOps splits args into a sequence of operations, each followed by its
// arguments.
func ParseOps(args []string) ([]Op, error) {
	var ops []Op
	for i := 0; i < len(args); {
		name := args[i]
		ar, ok := opTable[name]
		if !ok {
			return nil, errors.Errorf("unknown operation %q", name)
		}
		i++
		op := Op{Name: name}
		for n := 0; n < ar.required; n++ {
			if i >= len(args) {
				return nil, errors.Errorf("%s needs %d argument(s)", name, ar.required)
			}
			op.Args = append(op.Args, args[i])
			i++
		}
		for ar.optOK != nil && i < len(args) && ar.optOK(args[i]) {
			op.Args = append(op.Args, args[i])
			i++
			if !ar.many {
				break
			}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Do runs op and returns its summary exit code. patchsetDir is where
// patchset_create writes and patchset_apply reads the patch files.
func (b *Builder) Do(ctx context.Context, op Op, patchsetDir string) int {
	logging.Infof(ctx, "Running %s", op)
	bt := func(i int) BuildType {
		if i < len(op.Args) {
			return BuildType(op.Args[i])
		}
		return Debug
	}
	switch op.Name {
	case "destroy":
		return b.Destroy(ctx)
	case "checkout":
		return b.Checkout(ctx)
	case "update":
		return b.Update(ctx)
	case "dependencies":
		return b.Dependencies(ctx, op.Args...)
	case "update_dependencies":
		return b.UpdateDependencies(ctx, op.Args...)
	case "patch_build_sst":
		return b.PatchBuildDependency(ctx, "sst", op.Args[0], bt(1))
	case "patch_build_enet":
		return b.PatchBuildDependency(ctx, "enet", op.Args[0], bt(1))
	case "build":
		return b.Build(ctx, bt(0))
	case "patch":
		return b.ApplyPatch(ctx, op.Args[0])
	case "patchmail":
		return b.ApplyPatchMail(ctx, op.Args[0])
	case "reset":
		return b.ResetToHead(ctx)
	case "reset_origin":
		return b.ResetToOriginHead(ctx)
	case "git_clean":
		return b.GitClean(ctx)
	case "clean":
		return b.Clean(ctx)
	case "fullbuild":
		return b.FullBuild(ctx, bt(0))
	case "patchset_create":
		if err := CreatePatchset(ctx, patchsetDir); err != nil {
			logging.Warningf(ctx, "Failed to create patch set: %v", err)
			return 1
		}
		return 0
	case "patchset_apply":
		return b.ApplyPatchset(ctx, patchsetDir)
	case "patchset_revert":
		return b.RevertPatchset(ctx)
	}
	panic(fmt.Sprintf("unhandled operation %q", op.Name))
}

// DoAll runs ops in order, stopping at the first one that fails.
func (b *Builder) DoAll(ctx context.Context, ops []Op, patchsetDir string) int {
	for _, op := range ops {
		if code := b.Do(ctx, op, patchsetDir); code != 0 {
			logging.Warningf(ctx, "%s failed with %d", op, code)
			return code
		}
	}
	return 0
}
