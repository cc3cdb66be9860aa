// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cluster

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"go.sirikata.org/harness/internal/sshtest"
	"go.sirikata.org/harness/shutil"
)

func localConfig(names ...string) *Config {
	cfg := &Config{CodeDir: DefaultCodeDir}
	for _, n := range names {
		cfg.Hosts = append(cfg.Hosts, Host{Name: n})
	}
	return cfg
}

func TestRunExitCodes(t *testing.T) {
	for _, tc := range []struct {
		name string
		cmds []shutil.Command
		want int
	}{
		{"success", []shutil.Command{"true"}, 0},
		{"failure", []shutil.Command{"exit 3"}, 3},
		{"lastWins", []shutil.Command{"false", "true"}, 0},
		{"concatFailure", []shutil.Command{"true", "exit 7"}, 7},
		{"signal", []shutil.Command{"kill -SEGV $$"}, -11},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := localConfig("a", "b")
			res := NewExecutor(cfg).Run(context.Background(), cfg.Hosts, tc.cmds...)
			if diff := cmp.Diff(res.Codes, []int{tc.want, tc.want}); diff != "" {
				t.Errorf("Codes mismatch (-got +want):\n%s", diff)
			}
			if got := res.SummaryCode(); got != tc.want {
				t.Errorf("SummaryCode() = %d; want %d", got, tc.want)
			}
		})
	}
}

func TestRunSummaryIsFirstFailure(t *testing.T) {
	cfg := localConfig("a", "b", "c")
	e := NewExecutor(cfg)
	codes := map[string]int{"a": 0, "b": 4, "c": 9}
	e.run = func(ctx context.Context, h Host, cmd shutil.Command, out io.Writer) (int, error) {
		return codes[h.Name], nil
	}
	res := e.Run(context.Background(), cfg.Hosts, "whatever")
	if got := res.SummaryCode(); got != 4 {
		t.Errorf("SummaryCode() = %d; want 4", got)
	}
	if c, ok := res.Code("c"); !ok || c != 9 {
		t.Errorf("Code(c) = %d, %v; want 9, true", c, ok)
	}
	if _, ok := res.Code("zz"); ok {
		t.Error("Code(zz) unexpectedly found")
	}
}

func TestRunEachUsesHostCommand(t *testing.T) {
	cfg := localConfig("a", "b")
	res := NewExecutor(cfg).RunEach(context.Background(), cfg.Hosts, func(h Host) shutil.Command {
		return shutil.Args("echo", "hello", h.Name)
	})
	if diff := cmp.Diff(res.Outputs, []string{"hello a\n", "hello b\n"}); diff != "" {
		t.Errorf("Outputs mismatch (-got +want):\n%s", diff)
	}
}

func TestRunRemote(t *testing.T) {
	env := sshtest.NewEnv(t, sshtest.RealCmdHandler)
	cfg := &Config{
		Hosts: []Host{
			{Name: "local"},
			{Name: "remote", Target: env.Target()},
		},
		CodeDir: DefaultCodeDir,
		SSH:     SSHConfig{KeyFile: env.KeyFile, ConnectTimeout: 5 * time.Second},
	}
	res := NewExecutor(cfg).Run(context.Background(), cfg.Hosts, "echo out", "exit 5")
	if diff := cmp.Diff(res.Codes, []int{5, 5}); diff != "" {
		t.Errorf("Codes mismatch (-got +want):\n%s", diff)
	}
	for i, out := range res.Outputs {
		if out != "out\n" {
			t.Errorf("Outputs[%d] = %q; want %q", i, out, "out\n")
		}
	}
}

func TestRunConnectFailure(t *testing.T) {
	// Reserve a port and release it so that nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := &Config{
		Hosts: []Host{
			{Name: "ok"},
			{Name: "down", Target: "root@" + addr},
		},
		CodeDir: DefaultCodeDir,
		SSH:     SSHConfig{ConnectTimeout: time.Second},
	}
	res := NewExecutor(cfg).Run(context.Background(), cfg.Hosts, "true")
	if diff := cmp.Diff(res.Codes, []int{0, ConnectFailure}); diff != "" {
		t.Errorf("Codes mismatch (-got +want):\n%s", diff)
	}
	if res.Errs[1] == nil {
		t.Error("Errs[1] is nil for an unreachable host")
	}
}

func TestRunSessionFailure(t *testing.T) {
	for _, tc := range []struct {
		name    string
		handler sshtest.ExecHandler
	}{
		{"rejected", func(req *sshtest.ExecReq) { req.Start(false) }},
		{"noStatus", func(req *sshtest.ExecReq) {
			req.Start(true)
			req.CloseOutput()
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := sshtest.NewEnv(t, tc.handler)
			cfg := &Config{
				Hosts:   []Host{{Name: "remote", Target: env.Target()}},
				CodeDir: DefaultCodeDir,
				SSH:     SSHConfig{KeyFile: env.KeyFile, ConnectTimeout: 5 * time.Second},
			}
			res := NewExecutor(cfg).Run(context.Background(), cfg.Hosts, "true")
			if diff := cmp.Diff(res.Codes, []int{ConnectFailure}); diff != "" {
				t.Errorf("Codes mismatch (-got +want):\n%s", diff)
			}
			if res.Errs[0] == nil {
				t.Error("Errs[0] is nil for a failed session")
			}
		})
	}
}

func TestRunMaxParallel(t *testing.T) {
	cfg := localConfig("a", "b", "c", "d")
	cfg.MaxParallel = 1
	e := NewExecutor(cfg)
	var cur, peak int32
	e.run = func(ctx context.Context, h Host, cmd shutil.Command, out io.Writer) (int, error) {
		n := atomic.AddInt32(&cur, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&cur, -1)
		return 0, nil
	}
	e.Run(context.Background(), cfg.Hosts, "true")
	if peak != 1 {
		t.Errorf("Peak concurrency = %d; want 1", peak)
	}
}

// TestRunOneResultPerHost checks that any number of concatenated commands
// yields exactly one code per host.
func TestRunOneResultPerHost(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	props := gopter.NewProperties(params)
	props.Property("one code per host", prop.ForAll(
		func(nhosts int, codes []int) bool {
			var names []string
			for i := 0; i < nhosts; i++ {
				names = append(names, string(rune('a'+i)))
			}
			cfg := localConfig(names...)
			e := NewExecutor(cfg)
			var cmds []shutil.Command
			for _, c := range codes {
				cmds = append(cmds, shutil.Line("exit "+strconv.Itoa(c)))
			}
			e.run = func(ctx context.Context, h Host, cmd shutil.Command, out io.Writer) (int, error) {
				// Concat keeps the last command's status.
				parts := strings.Split(string(cmd), "; ")
				return strconv.Atoi(strings.TrimPrefix(parts[len(parts)-1], "exit "))
			}
			res := e.Run(context.Background(), cfg.Hosts, cmds...)
			if len(res.Codes) != nhosts {
				return false
			}
			for _, c := range res.Codes {
				if c != codes[len(codes)-1] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.SliceOfN(3, gen.IntRange(0, 120)),
	))
	props.TestingRun(t)
}
