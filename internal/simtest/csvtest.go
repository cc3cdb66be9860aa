// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package simtest provides suite tests that run the simulator binaries on
// this machine and judge them by their logs.
package simtest

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/procset"
	"go.sirikata.org/harness/internal/suite"
	"go.sirikata.org/harness/internal/verdict"
	"go.sirikata.org/harness/shutil"
)

// Defaults used by CSVTest when a field is zero.
const (
	DefaultDuration    = 60 * time.Second
	DefaultKillGrace   = 10 * time.Second
	DefaultSpaceWarmup = 3 * time.Second
	DefaultStopGrace   = 5 * time.Second
)

// Port range from which a space server port is drawn.
const (
	MinPort = 2000
	MaxPort = 3000
)

// Log and database names inside the test directory.
const (
	DBFile         = "unit_test_csv_db.db"
	ObjectHostLog  = "cppoh.log"
	SpaceServerLog = "space.log"
)

// Binaries locates the executables a CSVTest starts.
type Binaries struct {
	Space      string
	ObjectHost string
}

// CSVTest runs a space server and an object host that loads its objects
// from a CSV database, then judges the object host's log.
type CSVTest struct {
	TestName string
	Binaries Binaries
	Entities []Entity
	// ScriptPaths are the script import paths for the object host.
	ScriptPaths []string
	// Args are appended to the object host command line.
	Args []string
	// Duration is how long the object host may run before it is hung up.
	Duration time.Duration
	// KillGrace is how long after Duration a hung-up object host is killed.
	KillGrace time.Duration
	// NeedsHup marks tests that only end when hung up. Their timeout is
	// not a failure.
	NeedsHup bool
	// Conditions overrides the condition set picked by NeedsHup.
	Conditions []verdict.Condition
	Touches    []string
	// SpaceWarmup bounds the wait for the space server to accept
	// connections.
	SpaceWarmup time.Duration
	// FixedWarmup sleeps for SpaceWarmup instead of probing the port.
	FixedWarmup bool
	// Port is the space server port. Zero picks one at random.
	Port int
}

// Name implements suite.Test.
func (t *CSVTest) Name() string { return t.TestName }

// Features implements suite.FeatureTest.
func (t *CSVTest) Features() []string { return t.Touches }

func (t *CSVTest) conditions() []verdict.Condition {
	switch {
	case t.Conditions != nil:
		return t.Conditions
	case t.NeedsHup:
		return verdict.TimeoutTestConditions()
	default:
		return verdict.DefaultConditions()
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// PickPort returns a port in [MinPort, MaxPort).
func PickPort() int { return MinPort + rand.Intn(MaxPort-MinPort) }

// SpaceArgs returns the space server command line.
func (t *CSVTest) SpaceArgs(port int) []string {
	return []string{t.Binaries.Space, "--servermap-options=--port=" + strconv.Itoa(port)}
}

// ObjectHostArgs returns the object host command line.
func (t *CSVTest) ObjectHostArgs(port int, db string) []string {
	args := []string{
		t.Binaries.ObjectHost,
		"--servermap-options=--port=" + strconv.Itoa(port),
		"--object-factory=csv",
		"--object-factory-opts=--db=" + db,
	}
	if len(t.ScriptPaths) > 0 {
		args = append(args, fmt.Sprintf("--objecthost=--scriptManagers=js:{--import-paths=%s}", strings.Join(t.ScriptPaths, ",")))
	}
	return append(args, t.Args...)
}

// Run implements suite.Test.
func (t *CSVTest) Run(ctx context.Context, env *suite.Env) (*verdict.Verdict, error) {
	duration := orDefault(t.Duration, DefaultDuration)
	warmup := orDefault(t.SpaceWarmup, DefaultSpaceWarmup)
	port := t.Port
	if port == 0 {
		port = PickPort()
	}

	db := filepath.Join(env.Dir, DBFile)
	ohLog := filepath.Join(env.Dir, ObjectHostLog)
	spaceLog := filepath.Join(env.Dir, SpaceServerLog)
	env.AttachLog("Object Host", ohLog)
	env.AttachLog("Space Server", spaceLog)

	procs := procset.New()
	defer procs.Close()

	spaceArgs := t.SpaceArgs(port)
	if err := writeCommandLine(spaceLog, spaceArgs); err != nil {
		return nil, err
	}
	space, err := procs.Process(ctx, spaceArgs, procset.Name("space"), procset.LogFile(spaceLog))
	if err != nil {
		return nil, err
	}
	if t.FixedWarmup {
		if err := procs.Sleep(ctx, warmup); err != nil {
			return nil, err
		}
	} else if err := procs.WaitReady(ctx, space, procset.TCPProbe(net.JoinHostPort("127.0.0.1", strconv.Itoa(port))), warmup); err != nil {
		if !errors.Is(err, procset.ErrNotReady) {
			return nil, err
		}
		// The object host retries its connection, so a slow space server
		// is not fatal.
		logging.Infof(ctx, "Continuing without readiness: %v", err)
	}

	if err := WriteEntities(db, t.Entities); err != nil {
		return nil, err
	}
	ohArgs := t.ObjectHostArgs(port, db)
	if err := writeCommandLine(ohLog, ohArgs); err != nil {
		return nil, err
	}
	if _, err := procs.Process(ctx, ohArgs, procset.Name("cppoh"), procset.LogFile(ohLog), procset.Default()); err != nil {
		return nil, err
	}

	if err := procs.Wait(ctx, duration, duration+orDefault(t.KillGrace, DefaultKillGrace), env.Out); err != nil {
		return nil, err
	}
	if procs.TimedOut() {
		if err := appendLine(ohLog, verdict.TimedOutMarker); err != nil {
			return nil, err
		}
	}
	procs.StopAll(ctx, DefaultStopGrace)

	return verdict.Analyze(ohLog, procs.ReturnCode(), t.conditions(), t.Touches)
}

// writeCommandLine starts a log with the command that produces it.
func writeCommandLine(path string, args []string) error {
	return os.WriteFile(path, []byte(shutil.EscapeSlice(args)+"\n"), 0644)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
