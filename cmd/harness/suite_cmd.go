// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/command"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/reporting"
	"go.sirikata.org/harness/internal/suite"
)

// suiteCmd implements subcommands.Command to run a test suite.
type suiteCmd struct {
	g         *globalFlags
	suiteName string
	cleanup   suite.CleanupPolicy
	resDir    string
	hosts     []string
}

var _ = subcommands.Command(&suiteCmd{})

func newSuiteCmd(g *globalFlags) *suiteCmd {
	return &suiteCmd{g: g, suiteName: simSuiteName, cleanup: suite.KeepFailed}
}

func (*suiteCmd) Name() string     { return "suite" }
func (*suiteCmd) Synopsis() string { return "run a test suite" }
func (*suiteCmd) Usage() string {
	return `Usage: suite [flag]... [test]...
Runs the named tests of a suite in the given order, or every test when no
name is given. Exits non-zero if any test failed.
Suites: ` + strings.Join(suiteNames(), ", ") + `

`
}

func (c *suiteCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.suiteName, "suite", simSuiteName, "suite to run")
	f.StringVar(&c.resDir, "resultsdir", "", "directory for test results")
	f.Var(command.NewListFlag(&c.hosts), "hosts", "comma-separated hosts to use (default all)")

	vals := map[string]int{
		"always":      int(suite.CleanAlways),
		"keep_failed": int(suite.KeepFailed),
		"keep_all":    int(suite.KeepAll),
	}
	td := command.NewEnumFlag(vals, func(v int) { c.cleanup = suite.CleanupPolicy(v) }, "keep_failed")
	desc := fmt.Sprintf("test directories to remove after the run (%s; default %q)", td.QuotedValues(), td.Default())
	f.Var(td, "cleanup", desc)
}

func (c *suiteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	build, ok := suiteBuilders[c.suiteName]
	if !ok {
		logging.Infof(ctx, "Unknown suite %q (known: %s)", c.suiteName, strings.Join(suiteNames(), ", "))
		return subcommands.ExitUsageError
	}
	cfg, err := c.g.loadConfig()
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}
	hosts, err := cfg.Select(c.hosts...)
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitUsageError
	}

	ctx, rd, err := openResultDir(ctx, c.resDir)
	if err != nil {
		logging.Info(ctx, "Failed to create results dir: ", err)
		return subcommands.ExitFailure
	}
	defer rd.close(ctx)

	opts := suite.Options{
		BaseDir: rd.path,
		Out:     os.Stdout,
		Err:     os.Stderr,
		Cleanup: c.cleanup,
	}
	if cfg.Reporting.Broker != "" {
		pub, err := reporting.DialMQTT(ctx, cfg.Reporting.Broker, cfg.Reporting.Topic)
		if err != nil {
			logging.Warning(ctx, "Live reporting disabled: ", err)
		} else {
			defer pub.Close()
			opts.OnResult = pub.OnResult(ctx)
		}
	}

	s, err := newSuite(c.suiteName, opts, build(cfg, cluster.NewExecutor(cfg), hosts))
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}
	results, err := s.Run(ctx, f.Args()...)
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitUsageError
	}

	if err := reporting.WriteResults(filepath.Join(rd.path, reporting.ResultsFile), results); err != nil {
		logging.Warning(ctx, "Failed to write results: ", err)
	}
	if n := suite.CountFailed(results); n > 0 {
		logging.Infof(ctx, "%d of %d test(s) failed", n, len(results))
		return subcommands.ExitFailure
	}
	logging.Infof(ctx, "All %d test(s) passed", len(results))
	return subcommands.ExitSuccess
}

// newSuite returns a suite holding tests.
func newSuite(name string, opts suite.Options, tests []suite.Test) (*suite.Suite, error) {
	s := suite.New(name, opts)
	for _, t := range tests {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}
