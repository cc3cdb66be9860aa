// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"strings"

	"github.com/google/subcommands"

	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/command"
	"go.sirikata.org/harness/internal/logging"
)

// clusterCmd implements subcommands.Command to build the simulator on the
// cluster.
type clusterCmd struct {
	g           *globalFlags
	hosts       []string
	patchsetDir string
}

var _ = subcommands.Command(&clusterCmd{})

func newClusterCmd(g *globalFlags) *clusterCmd {
	return &clusterCmd{g: g, patchsetDir: "."}
}

func (*clusterCmd) Name() string     { return "cluster" }
func (*clusterCmd) Synopsis() string { return "build the simulator on cluster hosts" }
func (*clusterCmd) Usage() string {
	return `Usage: cluster [flag]... <op> [arg]... [<op> [arg]...]...
Runs build operations on every selected host, one after another. Stops at
the first operation that fails on any host.
Operations: ` + strings.Join(cluster.OpNames(), ", ") + `

`
}

func (c *clusterCmd) SetFlags(f *flag.FlagSet) {
	f.Var(command.NewListFlag(&c.hosts), "hosts", "comma-separated hosts to use (default all)")
	f.StringVar(&c.patchsetDir, "patchset_dir", ".", "local directory holding patchset files")
}

func (c *clusterCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ops, err := cluster.ParseOps(f.Args())
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitUsageError
	}
	if len(ops) == 0 {
		logging.Info(ctx, "No operations given")
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

	b := cluster.NewBuilder(cluster.NewExecutor(cfg), hosts)
	if code := b.DoAll(ctx, ops, c.patchsetDir); code != 0 {
		logging.Infof(ctx, "Cluster operations failed with code %d", code)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
