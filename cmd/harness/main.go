// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the harness executable, used to build the
// simulator across a cluster, run test suites and benchmark sweeps, and
// analyze simulator logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/command"
	"go.sirikata.org/harness/internal/logging"
)

// Version is the version info of this command. It is filled in at link time.
var Version = "<unknown>"

const configEnv = "HARNESS_CONFIG" // environment variable naming the default config file

// globalFlags holds flags that apply to every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	logTime    bool
}

// loadConfig reads the cluster configuration named by -config. Without a
// config file the cluster is this machine alone.
func (g *globalFlags) loadConfig() (*cluster.Config, error) {
	if g.configPath == "" {
		return cluster.ParseConfig(nil)
	}
	return cluster.LoadConfig(g.configPath)
}

// newLogger creates the console logger based on the supplied flags.
func newLogger(verbose, logTime bool) logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.NewSinkLogger(level, logTime, logging.NewWriterSink(os.Stdout))
}

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	g := &globalFlags{}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newSuiteCmd(g), "")
	subcommands.Register(newClusterCmd(g), "")
	subcommands.Register(newBenchCmd(g), "")
	subcommands.Register(&analyzeCmd{}, "")

	version := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&g.configPath, "config", os.Getenv(configEnv), "cluster configuration file (YAML)")
	flag.BoolVar(&g.verbose, "verbose", false, "use verbose logging")
	flag.BoolVar(&g.logTime, "logtime", true, "include date/time headers in logs")
	flag.Parse()

	if *version {
		fmt.Printf("harness version %s\n", Version)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.AttachLogger(ctx, newLogger(g.verbose, g.logTime))

	command.InstallSignalHandler(os.Stdout, func(os.Signal) { cancel() })

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
