// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bench

import (
	"context"
	"os"
	"strings"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/suite"
	"go.sirikata.org/harness/internal/verdict"
)

// SimTest is a suite test that runs one cluster simulation and passes if
// every process exits cleanly.
type SimTest struct {
	TestName string
	Executor *cluster.Executor
	Hosts    []cluster.Host
	Settings Settings
}

// Name implements suite.Test.
func (t *SimTest) Name() string { return t.TestName }

// Run implements suite.Test.
func (t *SimTest) Run(ctx context.Context, env *suite.Env) (*verdict.Verdict, error) {
	return simVerdict(NewClusterSim(t.Executor, t.Hosts, t.Settings).Run(ctx), nil)
}

// simVerdict turns a simulation outcome into a verdict. Process failures
// are verdicts; anything else is returned as an error.
func simVerdict(err error, touches []string) (*verdict.Verdict, error) {
	var se *SimError
	if errors.As(err, &se) {
		text := strings.Join(se.Result.Outputs, "\n")
		v := verdict.AnalyzeText(text, signedStatus(se.Code), verdict.TimeoutTestConditions(), touches)
		v.Passed = false
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	return &verdict.Verdict{Passed: true, Touches: touches}, nil
}

// signedStatus converts a shell status of 128+N, reported for a background
// process killed by signal N, to -N.
func signedStatus(c int) int {
	if c > 128 && c <= 128+64 {
		return -(c - 128)
	}
	return c
}

// LatencyTest is a suite test that sweeps a packet latency scenario and
// keeps the end-to-end latency results in the test directory.
type LatencyTest struct {
	TestName   string
	Executor   *cluster.Executor
	Hosts      []cluster.Host
	Settings   Settings
	Rates      []int
	Local      bool
	Remote     bool
	NumObjects int
	Analysis   string
	Graph      string
	Touches    []string
}

// Name implements suite.Test.
func (t *LatencyTest) Name() string { return t.TestName }

// Features implements suite.FeatureTest.
func (t *LatencyTest) Features() []string { return t.Touches }

// Driver returns the sweep driver writing into dir.
func (t *LatencyTest) Driver(dir string) *Driver {
	n := t.NumObjects
	if n == 0 {
		n = t.Settings.NumRandomObjects
	}
	return &Driver{
		Executor:   t.Executor,
		Hosts:      t.Hosts,
		Base:       t.Settings,
		Scenario:   PacketLatencyScenario(t.Local, t.Remote),
		NumObjects: n,
		OutDir:     dir,
		Analysis:   t.Analysis,
		Graph:      t.Graph,
	}
}

// Run implements suite.Test.
func (t *LatencyTest) Run(ctx context.Context, env *suite.Env) (*verdict.Verdict, error) {
	results, err := t.Driver(env.Dir).Sweep(ctx, t.Rates)
	if v, err := simVerdict(err, t.Touches); v == nil || !v.Passed {
		return v, err
	}
	for _, r := range results {
		if fi, err := os.Stat(r); err != nil || fi.Size() == 0 {
			return nil, errors.Errorf("empty latency result %s", r)
		}
	}
	return &verdict.Verdict{Passed: true, Touches: t.Touches}, nil
}
