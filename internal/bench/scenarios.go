// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bench

import (
	"strconv"
)

// Scenario adapts base settings to one rate of a sweep.
type Scenario func(base Settings, rate int) Settings

// PacketLatencyScenario pings between objects, locally within a space
// server, remotely across servers, or both.
func PacketLatencyScenario(local, remote bool) Scenario {
	return func(base Settings, rate int) Settings {
		return base.WithScenario("ping",
			"--num-pings-per-second="+strconv.Itoa(rate),
			"--allow-same-object-host=false",
			"--force-same-object-host=false",
			"--local="+strconv.FormatBool(local),
			"--remote="+strconv.FormatBool(remote),
		).
			WithTrace(TraceSimOH, "object").
			WithTrace(TraceSimOH, "ping").
			WithTrace(TraceAll, "message")
	}
}

// OSegFloodScenario floods object segmentation with uniform messages.
func OSegFloodScenario(payload int, local bool) Scenario {
	return func(base Settings, rate int) Settings {
		return base.WithScenario("osegflood",
			"--num-pings-per-second="+strconv.Itoa(rate),
			"--prob-messages-uniform=1.0",
			"--num-objects-per-server=20",
			"--ping-size="+strconv.Itoa(payload),
			"--local="+strconv.FormatBool(local),
		).
			With(func(s *Settings) { s.FlowScheduler = "csfq" }).
			WithTrace(TraceSimOH, "object").
			WithTrace(TraceSimOH, "ping").
			WithTrace(TraceAll, "message")
	}
}

// LoadPacketTraceScenario replays a recorded message trace.
func LoadPacketTraceScenario(payload int, local bool, traceFile string) Scenario {
	return func(base Settings, rate int) Settings {
		return base.WithScenario("loadpackettrace",
			"--num-pings-per-second="+strconv.Itoa(rate),
			"--num-objects-per-server=512",
			"--ping-size="+strconv.Itoa(payload),
			"--local="+strconv.FormatBool(local),
			"--tracefile="+traceFile,
		).
			With(func(s *Settings) { s.FlowScheduler = "csfq" }).
			WithTrace(TraceSimOH, "object").
			WithTrace(TraceSimOH, "ping").
			WithTrace(TraceAll, "message")
	}
}
