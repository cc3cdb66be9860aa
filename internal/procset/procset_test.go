// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package procset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/testutil"
)

// useFakeClock installs a fake clock for the rest of the test.
func useFakeClock(t *testing.T) *fakeclock.FakeClock {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	prev := clk
	clk = fc
	t.Cleanup(func() { clk = prev })
	return fc
}

// waitForFile polls with the real clock until path exists.
func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}

func checkFlags(t *testing.T, s *Set, code int, hupped, killed bool) {
	t.Helper()
	if got := s.ReturnCode(); got != code {
		t.Errorf("ReturnCode() = %d; want %d", got, code)
	}
	if got := s.Hupped(); got != hupped {
		t.Errorf("Hupped() = %v; want %v", got, hupped)
	}
	if got := s.Killed(); got != killed {
		t.Errorf("Killed() = %v; want %v", got, killed)
	}
	if got := s.TimedOut(); got != (hupped || killed) {
		t.Errorf("TimedOut() = %v; want %v", got, hupped || killed)
	}
}

func TestWaitNaturalExit(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	if _, err := s.Process(ctx, []string{"sh", "-c", "exit 3"}, Default()); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(ctx, time.Hour, time.Hour+10*time.Second, nil); err != nil {
		t.Fatal("Wait failed: ", err)
	}
	checkFlags(t, s, 3, false, false)
}

func TestWaitHangsUp(t *testing.T) {
	fc := useFakeClock(t)
	ready := filepath.Join(testutil.TempDir(t), "ready")
	ctx := context.Background()
	s := New()
	defer s.Close()
	script := `trap 'exit 0' HUP; touch "$0"; while :; do sleep 0.05; done`
	if _, err := s.Process(ctx, []string{"sh", "-c", script, ready}, Default()); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, ready)

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx, 20*time.Second, 30*time.Second, &out) }()
	fc.WaitForWatcherAndIncrement(20 * time.Second)
	if err := <-done; err != nil {
		t.Fatal("Wait failed: ", err)
	}
	checkFlags(t, s, 0, true, false)
	if !strings.Contains(out.String(), "sending SIGHUP") {
		t.Errorf("Wait output %q does not mention SIGHUP", out.String())
	}
}

func TestWaitKillsSession(t *testing.T) {
	fc := useFakeClock(t)
	ready := filepath.Join(testutil.TempDir(t), "ready")
	ctx := context.Background()
	s := New()
	defer s.Close()
	script := `trap '' HUP; touch "$0"; while :; do sleep 0.05; done`
	if _, err := s.Process(ctx, []string{"sh", "-c", script, ready}, Default()); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, ready)

	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx, 20*time.Second, 30*time.Second, nil) }()
	fc.WaitForWatcherAndIncrement(20 * time.Second)
	fc.WaitForWatcherAndIncrement(10 * time.Second)
	if err := <-done; err != nil {
		t.Fatal("Wait failed: ", err)
	}
	checkFlags(t, s, -9, true, true)
}

func TestKillWithoutProcessList(t *testing.T) {
	prev := listPids
	listPids = func() ([]int32, error) { return nil, errors.New("no process table") }
	t.Cleanup(func() { listPids = prev })

	ctx := context.Background()
	s := New()
	p, err := s.Process(ctx, []string{"sh", "-c", "trap '' HUP; while :; do sleep 0.05; done"}, Default())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
	if got := p.ExitCode(); got != -9 {
		t.Errorf("ExitCode() = %d; want -9", got)
	}
}

func TestWaitSignalExitCode(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	if _, err := s.Process(ctx, []string{"sh", "-c", "kill -SEGV $$"}, Default(), Dir(testutil.TempDir(t))); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(ctx, time.Minute, time.Minute, nil); err != nil {
		t.Fatal(err)
	}
	checkFlags(t, s, -11, false, false)
}

func TestWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s := New()
	defer s.Close()
	if _, err := s.Process(ctx, []string{"sleep", "60"}, Default()); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(ctx, time.Hour, time.Hour, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v; want %v", err, context.DeadlineExceeded)
	}
	checkFlags(t, s, -9, false, false)
}

func TestWaitNoDefault(t *testing.T) {
	s := New()
	if err := s.Wait(context.Background(), time.Second, time.Second, nil); !errors.Is(err, ErrNoDefault) {
		t.Errorf("Wait = %v; want ErrNoDefault", err)
	}
	if got := s.ReturnCode(); got != NoExitCode {
		t.Errorf("ReturnCode() = %d; want NoExitCode", got)
	}
}

func TestSecondDefaultRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	if _, err := s.Process(ctx, []string{"true"}, Default(), WaitExit()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Process(ctx, []string{"true"}, Default()); err == nil {
		t.Error("Second default process was accepted")
	}
}

func TestProcessOutput(t *testing.T) {
	ctx := context.Background()
	td := testutil.TempDir(t)
	s := New()
	defer s.Close()

	var buf bytes.Buffer
	p, err := s.Process(ctx, []string{"sh", "-c", "echo out; echo err >&2; exit 4"}, Output(&buf), WaitExit(), Name("setup"))
	if err != nil {
		t.Fatal(err)
	}
	if got := p.ExitCode(); got != 4 {
		t.Errorf("ExitCode() = %d; want 4", got)
	}
	if got := buf.String(); got != "out\nerr\n" {
		t.Errorf("Output = %q; want %q", got, "out\nerr\n")
	}

	log := filepath.Join(td, "sim.log")
	if _, err := s.Process(ctx, []string{"sh", "-c", "echo $GREETING"}, LogFile(log), Env("GREETING=hello"), WaitExit()); err != nil {
		t.Fatal(err)
	}
	if b, err := os.ReadFile(log); err != nil || string(b) != "hello\n" {
		t.Errorf("Log file = (%q, %v); want %q", b, err, "hello\n")
	}

	if _, err := s.Process(ctx, []string{"sh"}, LogFile(filepath.Join(td, "missing/dir/x.log"))); err == nil {
		t.Error("Process succeeded with an unopenable log file")
	}
}

func TestStopAll(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	aux, err := s.Process(ctx, []string{"sleep", "60"}, Name("space"))
	if err != nil {
		t.Fatal(err)
	}
	done, err := s.Process(ctx, []string{"true"}, WaitExit())
	if err != nil {
		t.Fatal(err)
	}
	s.StopAll(ctx, 10*time.Second)
	if got := aux.ExitCode(); got != -15 {
		t.Errorf("Auxiliary exit code = %d; want -15", got)
	}
	if got := done.ExitCode(); got != 0 {
		t.Errorf("Finished process exit code = %d; want 0", got)
	}
}

func TestSleep(t *testing.T) {
	fc := useFakeClock(t)
	s := New()
	done := make(chan error, 1)
	go func() { done <- s.Sleep(context.Background(), 3*time.Second) }()
	fc.WaitForWatcherAndIncrement(3 * time.Second)
	if err := <-done; err != nil {
		t.Error("Sleep failed: ", err)
	}
}
