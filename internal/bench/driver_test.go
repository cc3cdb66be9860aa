// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bench

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.sirikata.org/harness/internal/suite"
	"go.sirikata.org/harness/internal/timing"
	"go.sirikata.org/harness/testutil"
)

var _ suite.FeatureTest = (*LatencyTest)(nil)

// fakeAnalysis writes the latency log named by --latency-log.
const fakeAnalysis = `#!/bin/sh
for a; do
  case $a in --latency-log=*) echo "latency 1.5ms" > "${a#--latency-log=}";; esac
done
`

const fakeGraph = `#!/bin/sh
echo "$@" > graph.args
`

func writeTools(t *testing.T, tools map[string]string) string {
	t.Helper()
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, tools); err != nil {
		t.Fatal(err)
	}
	for n := range tools {
		if err := os.Chmod(filepath.Join(dir, n), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSweep(t *testing.T) {
	ex, hosts := newLocalCluster(t, "a")
	tools := writeTools(t, map[string]string{"analysis": fakeAnalysis, "graph": fakeGraph})
	out := testutil.TempDir(t)

	var rates []int
	d := &Driver{
		Executor: ex,
		Hosts:    hosts,
		Base:     DefaultSettings(),
		Scenario: func(base Settings, rate int) Settings {
			rates = append(rates, rate)
			return PacketLatencyScenario(true, true)(base, rate)
		},
		NumObjects: 326,
		OutDir:     out,
		Analysis:   filepath.Join(tools, "analysis"),
		Graph:      filepath.Join(tools, "graph"),
	}

	tl := timing.NewLog()
	ctx := timing.NewContext(context.Background(), tl)
	results, err := d.Sweep(ctx, []int{10, 20})
	if err != nil {
		t.Fatal("Sweep failed: ", err)
	}

	want := []string{filepath.Join(out, "endtoend.10-326"), filepath.Join(out, "endtoend.20-326")}
	if diff := cmp.Diff(results, want); diff != "" {
		t.Errorf("Results mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(rates, []int{10, 20}); diff != "" {
		t.Errorf("Scenario rates mismatch (-got +want):\n%s", diff)
	}
	for _, f := range []string{"trace-space-1.bin", "trace-space-2.bin", "trace-oh-1.bin", "analysis-10.log"} {
		if _, err := os.Stat(filepath.Join(out, f)); err != nil {
			t.Errorf("%s missing: %v", f, err)
		}
	}
	args, err := os.ReadFile(filepath.Join(out, "graph.args"))
	if err != nil {
		t.Fatal("Graph did not run: ", err)
	}
	if got := strings.TrimSpace(string(args)); got != strings.Join(want, " ") {
		t.Errorf("Graph args = %q", got)
	}

	var stages []string
	for _, s := range tl.Stages {
		stages = append(stages, s.Name)
	}
	if diff := cmp.Diff(stages, []string{"rate 10", "rate 20", "graph"}); diff != "" {
		t.Errorf("Timing stages mismatch (-got +want):\n%s", diff)
	}
	var sub []string
	for _, s := range tl.Stages[0].Children {
		sub = append(sub, s.Name)
	}
	if diff := cmp.Diff(sub, []string{"run", "collect", "analysis"}); diff != "" {
		t.Errorf("Rate stages mismatch (-got +want):\n%s", diff)
	}
}

func TestSweepSingleRateName(t *testing.T) {
	ex, hosts := newLocalCluster(t, "a")
	tools := writeTools(t, map[string]string{"analysis": fakeAnalysis})
	d := &Driver{
		Executor:   ex,
		Hosts:      hosts,
		Base:       DefaultSettings(),
		Scenario:   OSegFloodScenario(1024, false),
		NumObjects: 13500,
		OutDir:     testutil.TempDir(t),
		Analysis:   filepath.Join(tools, "analysis"),
	}
	results, err := d.Sweep(context.Background(), []int{40})
	if err != nil {
		t.Fatal("Sweep failed: ", err)
	}
	if diff := cmp.Diff(results, []string{filepath.Join(d.OutDir, "endtoend.13500")}); diff != "" {
		t.Errorf("Results mismatch (-got +want):\n%s", diff)
	}
}

func TestSweepAnalysisFailure(t *testing.T) {
	ex, hosts := newLocalCluster(t, "a")
	tools := writeTools(t, map[string]string{"analysis": "#!/bin/sh\necho broken trace\nexit 2\n"})
	d := &Driver{
		Executor: ex,
		Hosts:    hosts,
		Base:     DefaultSettings(),
		Scenario: PacketLatencyScenario(true, false),
		OutDir:   testutil.TempDir(t),
		Analysis: filepath.Join(tools, "analysis"),
	}
	results, err := d.Sweep(context.Background(), []int{1, 2})
	if err == nil {
		t.Fatal("Sweep succeeded despite a failing analysis")
	}
	if len(results) != 0 {
		t.Errorf("Results = %q; want none", results)
	}
	if !strings.Contains(err.Error(), "rate 1") || !strings.Contains(err.Error(), "exited with 2") {
		t.Errorf("Error = %v", err)
	}
}

func TestLatencyTest(t *testing.T) {
	ex, hosts := newLocalCluster(t, "a", "b")
	tools := writeTools(t, map[string]string{"analysis": fakeAnalysis})
	lt := &LatencyTest{
		TestName: "packet_latency_local",
		Executor: ex,
		Hosts:    hosts,
		Settings: DefaultSettings(),
		Rates:    []int{10},
		Local:    true,
		Analysis: filepath.Join(tools, "analysis"),
		Touches:  []string{"forwarder"},
	}
	env := &suite.Env{Dir: testutil.TempDir(t), Out: &bytes.Buffer{}}
	v, err := lt.Run(context.Background(), env)
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	if !v.Passed {
		t.Errorf("Verdict failed:\n%s", v)
	}
	if _, err := os.Stat(filepath.Join(env.Dir, "endtoend.100")); err != nil {
		t.Error("Latency result missing: ", err)
	}
}

func TestSimTestFailure(t *testing.T) {
	ex, hosts := newLocalCluster(t, "a")
	if err := os.WriteFile(filepath.Join(hosts[0].CodeDir, RunDir, "space"), []byte("#!/bin/sh\nkill -SEGV $$\n"), 0755); err != nil {
		t.Fatal(err)
	}
	st := &SimTest{TestName: "default_sim", Executor: ex, Hosts: hosts, Settings: DefaultSettings()}
	v, err := st.Run(context.Background(), &suite.Env{Dir: testutil.TempDir(t), Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	if v.Passed {
		t.Error("Verdict passed for a crashed space server")
	}
	if v.ExitCode != -11 {
		t.Errorf("ExitCode = %d; want -11", v.ExitCode)
	}
}
