// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/google/subcommands"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/bench"
	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/command"
	"go.sirikata.org/harness/internal/logging"
)

// Scenarios selectable with -scenario.
const (
	scenarioLatency = iota
	scenarioOSegFlood
	scenarioTrace
)

// benchCmd implements subcommands.Command to sweep a benchmark scenario
// over a set of rates.
type benchCmd struct {
	g        *globalFlags
	scenario int
	hosts    []string
	resDir   string

	layoutX, layoutY int
	objectHosts      int
	duration         time.Duration
	numObjects       int
	payload          int
	local            bool
	remote           bool
	traceFile        string
}

var _ = subcommands.Command(&benchCmd{})

func newBenchCmd(g *globalFlags) *benchCmd {
	return &benchCmd{g: g}
}

func (*benchCmd) Name() string     { return "bench" }
func (*benchCmd) Synopsis() string { return "run a benchmark rate sweep" }
func (*benchCmd) Usage() string {
	return `Usage: bench [flag]... <rate> [rate]...
Runs the chosen scenario once per rate, analyzes each run's traces and
graphs the end-to-end latency results.

`
}

func (c *benchCmd) SetFlags(f *flag.FlagSet) {
	def := bench.DefaultSettings()

	vals := map[string]int{
		"latency":   scenarioLatency,
		"osegflood": scenarioOSegFlood,
		"trace":     scenarioTrace,
	}
	sf := command.NewEnumFlag(vals, func(v int) { c.scenario = v }, "latency")
	f.Var(sf, "scenario", fmt.Sprintf("scenario to run (%s; default %q)", sf.QuotedValues(), sf.Default()))
	f.Var(command.NewListFlag(&c.hosts), "hosts", "comma-separated hosts to use (default all)")
	f.StringVar(&c.resDir, "resultsdir", "", "directory for traces and results")

	f.IntVar(&c.layoutX, "layout_x", def.Layout.X, "space servers along x")
	f.IntVar(&c.layoutY, "layout_y", def.Layout.Y, "space servers along y")
	f.IntVar(&c.objectHosts, "oh", def.ObjectHosts, "number of object hosts")
	f.DurationVar(&c.duration, "duration", def.Duration, "simulated duration")
	f.IntVar(&c.numObjects, "objects", def.NumRandomObjects, "number of random objects")
	f.IntVar(&c.payload, "payload", 64, "ping payload in bytes")
	f.BoolVar(&c.local, "local", true, "send pings within a space server")
	f.BoolVar(&c.remote, "remote", true, "send pings across space servers")
	f.StringVar(&c.traceFile, "tracefile", "", "recorded trace to replay (trace scenario)")
}

// parseRates parses positive message rates.
func parseRates(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, errors.New("no rates given")
	}
	rates := make([]int, len(args))
	for i, a := range args {
		r, err := strconv.Atoi(a)
		if err != nil || r <= 0 {
			return nil, errors.Errorf("bad rate %q", a)
		}
		rates[i] = r
	}
	return rates, nil
}

// scenarioFunc returns the scenario selected by the flags.
func (c *benchCmd) scenarioFunc() (bench.Scenario, error) {
	switch c.scenario {
	case scenarioOSegFlood:
		return bench.OSegFloodScenario(c.payload, c.local), nil
	case scenarioTrace:
		if c.traceFile == "" {
			return nil, errors.New("-tracefile is required by the trace scenario")
		}
		return bench.LoadPacketTraceScenario(c.payload, c.local, c.traceFile), nil
	default:
		return bench.PacketLatencyScenario(c.local, c.remote), nil
	}
}

// settings returns the base settings selected by the flags.
func (c *benchCmd) settings() bench.Settings {
	return bench.DefaultSettings().
		WithLayout(c.layoutX, c.layoutY).
		WithDuration(c.duration).
		With(func(s *bench.Settings) {
			s.ObjectHosts = c.objectHosts
			s.NumRandomObjects = c.numObjects
		})
}

func (c *benchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rates, err := parseRates(f.Args())
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitUsageError
	}
	scenario, err := c.scenarioFunc()
	if err != nil {
		logging.Info(ctx, err)
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

	d := &bench.Driver{
		Executor:   cluster.NewExecutor(cfg),
		Hosts:      hosts,
		Base:       c.settings(),
		Scenario:   scenario,
		NumObjects: c.numObjects,
		OutDir:     rd.path,
		Analysis:   localPath(cfg, cfg.Binaries.Analysis, defaultAnalysisBinary),
		Graph:      localPath(cfg, cfg.Binaries.Graph, ""),
	}
	results, err := d.Sweep(ctx, rates)
	if err != nil {
		logging.Info(ctx, "Sweep failed: ", err)
		return subcommands.ExitFailure
	}
	for _, r := range results {
		logging.Info(ctx, "Latency result: ", r)
	}
	return subcommands.ExitSuccess
}
