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
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/cluster"
	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/timing"
	"go.sirikata.org/harness/shutil"
)

// Ports used by space server i are BasePort+i for peers and
// BaseObjectPort+i for object hosts.
const (
	BasePort       = 6666
	BaseObjectPort = 7777
)

// RunDir is where simulations run, relative to a host's code directory.
const RunDir = "build/cmake"

// ServerMapFile lists the space servers for every process.
const ServerMapFile = "servermap.txt"

// Process is one simulator process placed on a host.
type Process struct {
	Host cluster.Host
	Args []string
	// Log is the output file, relative to RunDir.
	Log string
	// Trace is the trace file the process writes, relative to RunDir.
	Trace string
}

// ClusterSim places and runs the processes of one simulation.
type ClusterSim struct {
	ex       *cluster.Executor
	hosts    []cluster.Host
	settings Settings
}

// NewClusterSim returns a simulation of s on hosts.
func NewClusterSim(ex *cluster.Executor, hosts []cluster.Host, s Settings) *ClusterSim {
	return &ClusterSim{ex: ex, hosts: hosts, settings: s.clone()}
}

// Settings returns a copy of the simulation's settings.
func (c *ClusterSim) Settings() Settings { return c.settings.clone() }

// hostFor assigns the i-th process of a kind round-robin.
func (c *ClusterSim) hostFor(i int) cluster.Host { return c.hosts[i%len(c.hosts)] }

// hostAddr returns the network address of h as seen by the other hosts.
func hostAddr(h cluster.Host) string {
	if h.Local() {
		return "127.0.0.1"
	}
	t := h.Target
	if i := strings.LastIndexByte(t, '@'); i >= 0 {
		t = t[i+1:]
	}
	if i := strings.LastIndexByte(t, ':'); i >= 0 && !strings.Contains(t[i:], "]") {
		t = t[:i]
	}
	return strings.Trim(t, "[]")
}

// ServerMap returns the contents of ServerMapFile.
func (c *ClusterSim) ServerMap() string {
	var sb strings.Builder
	for i := 0; i < c.settings.Layout.Servers(); i++ {
		addr := hostAddr(c.hostFor(i))
		fmt.Fprintf(&sb, "%s:%d:%d\n", addr, BasePort+i, BaseObjectPort+i)
	}
	return sb.String()
}

func seconds(d time.Duration) string { return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s" }

func (c *ClusterSim) traceArgs(groups ...string) []string {
	var args []string
	for _, g := range groups {
		kinds := slices.Clone(c.settings.Traces[g])
		slices.Sort(kinds)
		for _, k := range kinds {
			args = append(args, "--trace-"+k+"=true")
		}
	}
	return args
}

func (c *ClusterSim) commonArgs() []string {
	s := &c.settings
	args := []string{
		fmt.Sprintf("--layout=<%d,%d,1>", s.Layout.X, s.Layout.Y),
		"--duration=" + seconds(s.Duration),
		"--servermap-options=--filename=" + ServerMapFile,
	}
	modules := maps.Keys(s.LogLevels)
	slices.Sort(modules)
	var levels []string
	for _, m := range modules {
		levels = append(levels, m+"="+s.LogLevels[m])
	}
	if len(levels) > 0 {
		args = append(args, "--moduleloglevel="+strings.Join(levels, ","))
	}
	return args
}

// Processes returns every process of the simulation, space servers first.
func (c *ClusterSim) Processes() []Process {
	s := &c.settings
	var procs []Process
	for i := 0; i < s.Layout.Servers(); i++ {
		id := i + 1
		args := []string{
			"./space",
			"--id=" + strconv.Itoa(id),
			"--blocksize=" + strconv.Itoa(s.Blocksize),
			"--send-bandwidth=" + strconv.FormatInt(s.TxBandwidth, 10),
			"--receive-bandwidth=" + strconv.FormatInt(s.RxBandwidth, 10),
			"--oseg-cache-size=" + strconv.Itoa(s.OSegCacheSize),
			"--oseg-cache-clean-group-size=" + strconv.Itoa(s.OSegCacheCleanGroup),
			"--oseg-cache-entry-lifetime=" + seconds(s.OSegCacheEntryLifetime),
			"--oseg-lookup-queue-size=" + strconv.Itoa(s.OSegLookupQueueSize),
			fmt.Sprintf("--trace-file=trace-space-%d.bin", id),
		}
		args = append(args, c.commonArgs()...)
		args = append(args, c.traceArgs(TraceAll, TraceSpace)...)
		args = append(args, s.Extra...)
		procs = append(procs, Process{
			Host:  c.hostFor(i),
			Args:  args,
			Log:   fmt.Sprintf("space-%d.log", id),
			Trace: fmt.Sprintf("trace-space-%d.bin", id),
		})
	}
	for i := 0; i < s.ObjectHosts; i++ {
		id := i + 1
		args := []string{
			"./simoh",
			"--ohid=" + strconv.Itoa(id),
			"--scenario=" + s.Scenario,
			"--scenario-options=" + strings.Join(s.ScenarioOptions, " "),
			"--odp-flow-scheduler=" + s.FlowScheduler,
			"--object-connect-phase=" + seconds(s.ObjectConnectPhase),
			"--object-static=" + s.ObjectStatic,
			"--object-query-frac=" + strconv.FormatFloat(s.ObjectQueryFrac, 'f', -1, 64),
			"--object-num-random=" + strconv.Itoa(s.NumRandomObjects),
			"--object-num-pack=" + strconv.Itoa(s.NumPackObjects),
			fmt.Sprintf("--trace-file=trace-oh-%d.bin", id),
		}
		if s.ObjectPack != "" {
			args = append(args, "--object-pack="+s.ObjectPack)
		}
		if s.PackDump {
			args = append(args, "--object-pack-dump=true")
		}
		args = append(args, c.commonArgs()...)
		args = append(args, c.traceArgs(TraceAll, TraceSimOH)...)
		args = append(args, s.Extra...)
		procs = append(procs, Process{
			Host:  c.hostFor(i),
			Args:  args,
			Log:   fmt.Sprintf("oh-%d.log", id),
			Trace: fmt.Sprintf("trace-oh-%d.bin", id),
		})
	}
	return procs
}

// hostCommand starts every process placed on h in the background, then
// waits for them. The status is the first non-zero status among them.
func hostCommand(procs []Process, h cluster.Host, limit time.Duration) shutil.Command {
	var stages []shutil.Command
	var n int
	for _, p := range procs {
		if p.Host.Name != h.Name {
			continue
		}
		cmd := string(shutil.Args(p.Args...))
		if limit > 0 {
			cmd = "timeout " + strconv.Itoa(int(limit.Seconds())) + " " + cmd
		}
		stages = append(stages, shutil.Line(fmt.Sprintf("%s > %s 2>&1 & p%d=$!", cmd, shutil.Escape(p.Log), n)))
		n++
	}
	if n == 0 {
		return shutil.Line("true")
	}
	stages = append(stages, shutil.Line("rc=0"))
	for i := 0; i < n; i++ {
		stages = append(stages, shutil.Line(fmt.Sprintf(`wait $p%d || { s=$?; [ $rc -eq 0 ] && rc=$s; }`, i)))
	}
	stages = append(stages, shutil.Line("exit $rc"))
	return shutil.Concat(stages...)
}

// Run uploads the server map and runs every process until all of them
// exit or the time limit passes.
func (c *ClusterSim) Run(ctx context.Context) error {
	defer timing.Start(ctx, "simulate").End()
	if len(c.hosts) == 0 {
		return cluster.ErrNoHosts
	}

	tmp, err := os.MkdirTemp("", "harness_servermap_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	sm := filepath.Join(tmp, ServerMapFile)
	if err := os.WriteFile(sm, []byte(c.ServerMap()), 0644); err != nil {
		return err
	}
	if err := c.ex.Copy(ctx, c.hosts, sm, cluster.RemotePrefix+path.Join(RunDir, ServerMapFile)); err != nil {
		return errors.Wrap(err, "failed to distribute server map")
	}

	procs := c.Processes()
	limit := c.settings.TimeLimit
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit+time.Minute)
		defer cancel()
	}
	logging.Infof(ctx, "Running %d processes on %d hosts", len(procs), len(c.hosts))
	cfg := c.ex.Config()
	res := c.ex.RunEach(ctx, c.hosts, func(h cluster.Host) shutil.Command {
		return shutil.InDir(path.Join(cfg.HostCodeDir(h), RunDir), hostCommand(procs, h, limit))
	})
	if code := res.SummaryCode(); code != 0 {
		return &SimError{Code: code, Result: res}
	}
	return nil
}

// SimError reports a simulation whose processes did not all exit cleanly.
type SimError struct {
	Code   int
	Result *cluster.RunResult
}

func (e *SimError) Error() string {
	var failed []string
	for i, c := range e.Result.Codes {
		if c != 0 {
			failed = append(failed, fmt.Sprintf("%s=%d", e.Result.Hosts[i], c))
		}
	}
	return "simulation failed: " + strings.Join(failed, ", ")
}
