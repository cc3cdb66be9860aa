// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package procset

import (
	"bytes"
	"context"
	"net"
	"os"
	"time"

	"go.sirikata.org/harness/errors"
	"go.sirikata.org/harness/internal/logging"
)

// Probe reports nil once a started process is ready to serve.
type Probe func(ctx context.Context) error

// TCPProbe succeeds once addr accepts TCP connections.
func TCPProbe(addr string) Probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return c.Close()
	}
}

// FileProbe succeeds once path exists.
func FileProbe(path string) Probe {
	return func(ctx context.Context) error {
		_, err := os.Stat(path)
		return err
	}
}

// LogProbe succeeds once the file at path contains marker.
func LogProbe(path, marker string) Probe {
	return func(ctx context.Context) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Contains(b, []byte(marker)) {
			return errors.Errorf("%q not yet in %s", marker, path)
		}
		return nil
	}
}

// ErrNotReady is returned by WaitReady when the probe never succeeded.
var ErrNotReady = errors.New("process did not become ready")

// ProbeInterval is the pause between readiness checks.
const ProbeInterval = 100 * time.Millisecond

// WaitReady polls probe until it succeeds, p exits, or timeout passes.
func (s *Set) WaitReady(ctx context.Context, p *Proc, probe Probe, timeout time.Duration) error {
	deadline := clk.NewTimer(timeout)
	defer deadline.Stop()
	var last error
	for {
		if last = probe(ctx); last == nil {
			logging.Debugf(ctx, "%s is ready", p.name)
			return nil
		}
		tick := clk.NewTimer(ProbeInterval)
		select {
		case <-p.done:
			tick.Stop()
			return errors.Wrapf(ErrNotReady, "%s exited with %d before becoming ready", p.name, p.code)
		case <-deadline.C():
			tick.Stop()
			return errors.Wrapf(ErrNotReady, "%s not ready after %v: %v", p.name, timeout, last)
		case <-ctx.Done():
			tick.Stop()
			return ctx.Err()
		case <-tick.C():
		}
	}
}
