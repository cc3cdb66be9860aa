// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.sirikata.org/harness/internal/bench"
	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/simtest"
	"go.sirikata.org/harness/internal/suite"
)

// Names of the suites known to the suite command.
const (
	simSuiteName = "default"
	csvSuiteName = "csv"
)

// Binaries used when the config leaves them unset, relative to the code dir.
const (
	defaultSpaceBinary      = bench.RunDir + "/space"
	defaultObjectHostBinary = bench.RunDir + "/cppoh"
	defaultAnalysisBinary   = bench.RunDir + "/analysis"
)

// localPath resolves a config path on this machine. Relative paths are
// taken relative to the local host's code dir, which is itself relative to
// $HOME unless absolute.
func localPath(cfg *cluster.Config, p, def string) string {
	if p == "" {
		p = def
	}
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	dir := cfg.HostCodeDir(cluster.Host{Name: "localhost"})
	if !filepath.IsAbs(dir) {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir)
		}
	}
	return filepath.Join(dir, p)
}

// suiteBuilder creates a suite's tests for the given hosts.
type suiteBuilder func(cfg *cluster.Config, ex *cluster.Executor, hosts []cluster.Host) []suite.Test

var suiteBuilders = map[string]suiteBuilder{
	simSuiteName: simSuite,
	csvSuiteName: csvSuite,
}

// suiteNames returns the known suite names in sorted order.
func suiteNames() []string {
	names := maps.Keys(suiteBuilders)
	slices.Sort(names)
	return names
}

// simSuite returns the cluster simulation and packet latency tests.
func simSuite(cfg *cluster.Config, ex *cluster.Executor, hosts []cluster.Host) []suite.Test {
	analysis := localPath(cfg, cfg.Binaries.Analysis, defaultAnalysisBinary)
	graph := localPath(cfg, cfg.Binaries.Graph, "")

	latency := func(name string, s bench.Settings, local, remote bool) suite.Test {
		return &bench.LatencyTest{
			TestName: name,
			Executor: ex,
			Hosts:    hosts,
			Settings: s,
			Rates:    []int{10},
			Local:    local,
			Remote:   remote,
			Analysis: analysis,
			Graph:    graph,
		}
	}

	caching := bench.DefaultSettings().With(func(s *bench.Settings) {
		s.Duration = 300 * time.Second
		s.OSegCacheEntryLifetime = 300 * time.Second
		s.NumRandomObjects = 50
		s.TimeLimit = 10 * time.Minute
	})

	tests := []suite.Test{
		&bench.SimTest{TestName: "default_sim", Executor: ex, Hosts: hosts, Settings: bench.DefaultSettings()},
		latency("default_packet_latency", bench.DefaultSettings(), true, true),
	}
	for _, mix := range []struct {
		name          string
		local, remote bool
	}{
		{"local", true, false},
		{"remote", false, true},
		{"mixed", true, true},
	} {
		for _, n := range []int{4, 8} {
			name := "packet_latency_with_caching_" + mix.name + "_" + strconv.Itoa(n)
			tests = append(tests, latency(name, caching.WithLayout(n, 1), mix.local, mix.remote))
		}
	}
	return tests
}

// csvSuite returns object host tests driven by CSV object databases. They
// run on this machine.
func csvSuite(cfg *cluster.Config, ex *cluster.Executor, hosts []cluster.Host) []suite.Test {
	bins := simtest.Binaries{
		Space:      localPath(cfg, cfg.Binaries.Space, defaultSpaceBinary),
		ObjectHost: localPath(cfg, cfg.Binaries.ObjectHost, defaultObjectHostBinary),
	}
	return []suite.Test{
		&simtest.CSVTest{
			TestName: "csv_empty_world",
			Binaries: bins,
			Duration: 20 * time.Second,
			NeedsHup: true,
		},
		&simtest.CSVTest{
			TestName: "csv_single_object",
			Binaries: bins,
			Entities: []simtest.Entity{simtest.NewScripted(simtest.Vec3{}, "", "")},
			Duration: 20 * time.Second,
			NeedsHup: true,
			Touches:  []string{"object factory"},
		},
	}
}
