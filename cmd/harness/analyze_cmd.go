// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/google/subcommands"

	"go.sirikata.org/harness/internal/command"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/verdict"
)

// analyzeCmd implements subcommands.Command to judge an existing log.
type analyzeCmd struct {
	exitCode    int
	timeoutTest bool
	touches     []string
	conditions  []string
}

var _ = subcommands.Command(&analyzeCmd{})

func (*analyzeCmd) Name() string     { return "analyze" }
func (*analyzeCmd) Synopsis() string { return "judge a simulator log" }
func (*analyzeCmd) Usage() string {
	return `Usage: analyze [flag]... <log>
Runs the error conditions over a log and prints the verdict. Exits non-zero
if the run failed.
Conditions: ` + strings.Join(verdict.Builtin.Names(), ", ") + `

`
}

func (c *analyzeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.exitCode, "exit", 0, "exit code of the process that wrote the log")
	f.BoolVar(&c.timeoutTest, "timeout-test", false, "the process was expected to time out")
	f.Var(command.NewListFlag(&c.touches), "touches", "comma-separated features used by the test")
	f.Var(command.NewListFlag(&c.conditions), "conditions", "comma-separated conditions to check (overrides -timeout-test)")
}

// conds returns the conditions selected by the flags.
func (c *analyzeCmd) conds() ([]verdict.Condition, error) {
	switch {
	case len(c.conditions) > 0:
		return verdict.Builtin.Resolve(c.conditions)
	case c.timeoutTest:
		return verdict.TimeoutTestConditions(), nil
	default:
		return verdict.DefaultConditions(), nil
	}
}

func (c *analyzeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		logging.Info(ctx, "Exactly one log file must be given")
		return subcommands.ExitUsageError
	}
	conds, err := c.conds()
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitUsageError
	}
	v, err := verdict.Analyze(f.Arg(0), c.exitCode, conds, c.touches)
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}
	v.Report(os.Stdout)
	if !v.Passed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
