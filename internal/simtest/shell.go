// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package simtest

import (
	"context"
	"path/filepath"
	"time"

	"go.sirikata.org/harness/internal/procset"
	"go.sirikata.org/harness/internal/suite"
	"go.sirikata.org/harness/internal/verdict"
	"go.sirikata.org/harness/shutil"
)

// ShellCommandTest runs one shell command line as the default process.
type ShellCommandTest struct {
	TestName string
	Command  shutil.Command
	// Duration defaults to DefaultDuration. The command is killed
	// KillGrace after that.
	Duration   time.Duration
	KillGrace  time.Duration
	Conditions []verdict.Condition
	Touches    []string
}

// Name implements suite.Test.
func (t *ShellCommandTest) Name() string { return t.TestName }

// Features implements suite.FeatureTest.
func (t *ShellCommandTest) Features() []string { return t.Touches }

// Run implements suite.Test.
func (t *ShellCommandTest) Run(ctx context.Context, env *suite.Env) (*verdict.Verdict, error) {
	duration := orDefault(t.Duration, DefaultDuration)
	conds := t.Conditions
	if conds == nil {
		conds = verdict.DefaultConditions()
	}
	log := filepath.Join(env.Dir, "output.log")
	env.AttachLog("Output", log)

	procs := procset.New()
	defer procs.Close()
	if _, err := procs.Process(ctx, []string{"/bin/sh", "-c", string(t.Command)}, procset.Name(t.TestName), procset.LogFile(log), procset.Default()); err != nil {
		return nil, err
	}
	if err := procs.Wait(ctx, duration, duration+orDefault(t.KillGrace, DefaultKillGrace), env.Out); err != nil {
		return nil, err
	}
	if procs.TimedOut() {
		if err := appendLine(log, verdict.TimedOutMarker); err != nil {
			return nil, err
		}
	}
	return verdict.Analyze(log, procs.ReturnCode(), conds, t.Touches)
}
