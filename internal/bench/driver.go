// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bench

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/procset"
	"go.sirikata.org/harness/internal/timing"
)

// Simulator runs one simulation. *ClusterSim implements it.
type Simulator interface {
	Run(ctx context.Context) error
	Processes() []Process
}

// Driver runs a scenario at each rate of a sweep.
type Driver struct {
	Executor *cluster.Executor
	Hosts    []cluster.Host
	Base     Settings
	Scenario Scenario
	// NumObjects names the end-to-end latency results.
	NumObjects int
	// OutDir receives traces, analysis output and results.
	OutDir string
	// Analysis and Graph are local executables. Graph may be empty.
	Analysis string
	Graph    string

	// newSim is replaced in tests.
	newSim func(s Settings) Simulator
}

func (d *Driver) simulator(s Settings) Simulator {
	if d.newSim != nil {
		return d.newSim(s)
	}
	return NewClusterSim(d.Executor, d.Hosts, s)
}

// LatencyLog is the analysis output for rate inside OutDir.
func LatencyLog(rate int) string { return fmt.Sprintf("latency-%d.log", rate) }

// ResultName is the name a rate's latency log is kept under once analyzed.
func ResultName(rate, numObjects int, multi bool) string {
	name := "endtoend."
	if multi {
		name += strconv.Itoa(rate) + "-"
	}
	return name + strconv.Itoa(numObjects)
}

// Sweep runs, collects and analyzes every rate in turn, then draws the
// graph. It stops at the first failing step and returns the result files
// produced so far.
func (d *Driver) Sweep(ctx context.Context, rates []int) ([]string, error) {
	if len(rates) == 0 {
		return nil, errors.New("no rates given")
	}
	if err := os.MkdirAll(d.OutDir, 0755); err != nil {
		return nil, err
	}
	var results []string
	for _, rate := range rates {
		res, err := d.runRate(ctx, rate, len(rates) > 1)
		if err != nil {
			return results, errors.Wrapf(err, "rate %d", rate)
		}
		results = append(results, res)
	}
	if d.Graph != "" {
		st := timing.Start(ctx, "graph")
		err := d.tool(ctx, "graph.log", append([]string{d.Graph}, results...))
		st.End()
		if err != nil {
			return results, errors.Wrap(err, "graph failed")
		}
	}
	return results, nil
}

func (d *Driver) runRate(ctx context.Context, rate int, multi bool) (string, error) {
	defer timing.Start(ctx, "rate "+strconv.Itoa(rate)).End()
	ctx = logging.WithPrefix(ctx, fmt.Sprintf("[rate %d] ", rate))

	sim := d.simulator(d.Scenario(d.Base, rate))
	st := timing.Start(ctx, "run")
	err := sim.Run(ctx)
	st.End()
	if err != nil {
		return "", err
	}

	st = timing.Start(ctx, "collect")
	err = d.collect(ctx, sim.Processes())
	st.End()
	if err != nil {
		return "", errors.Wrap(err, "collect failed")
	}

	st = timing.Start(ctx, "analysis")
	latency := filepath.Join(d.OutDir, LatencyLog(rate))
	err = d.tool(ctx, fmt.Sprintf("analysis-%d.log", rate), []string{
		d.Analysis,
		"--analysis.latency=true",
		"--trace-dir=" + d.OutDir,
		"--latency-log=" + latency,
	})
	st.End()
	if err != nil {
		return "", errors.Wrap(err, "analysis failed")
	}

	result := filepath.Join(d.OutDir, ResultName(rate, d.NumObjects, multi))
	if err := os.Rename(latency, result); err != nil {
		return "", errors.Wrap(err, "analysis produced no latency log")
	}
	logging.Infof(ctx, "Wrote %s", result)
	return result, nil
}

// collect downloads every trace into OutDir.
func (d *Driver) collect(ctx context.Context, procs []Process) error {
	for _, p := range procs {
		if p.Trace == "" {
			continue
		}
		src := cluster.RemotePrefix + path.Join(RunDir, p.Trace)
		if err := d.Executor.Copy(ctx, []cluster.Host{p.Host}, src, filepath.Join(d.OutDir, p.Trace)); err != nil {
			return err
		}
	}
	return nil
}

// tool runs a local tool in OutDir and fails unless it exits with 0.
func (d *Driver) tool(ctx context.Context, log string, args []string) error {
	ps := procset.New()
	defer ps.Close()
	logPath := filepath.Join(d.OutDir, log)
	if _, err := ps.Process(ctx, args, procset.Dir(d.OutDir), procset.LogFile(logPath), procset.WaitExit(), procset.Default()); err != nil {
		return err
	}
	if code := ps.ReturnCode(); code != 0 {
		return errors.Errorf("%s exited with %d; see %s", filepath.Base(args[0]), code, logPath)
	}
	return nil
}
