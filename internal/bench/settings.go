// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bench runs simulations across the cluster over a sweep of rates
// and hands the traces to the analysis and graphing tools.
package bench

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Trace groups understood by the simulator.
const (
	TraceAll   = "all"
	TraceSpace = "space"
	TraceSimOH = "simoh"
)

// Layout is the grid of space server regions.
type Layout struct{ X, Y int }

// Servers returns the number of space servers the layout needs.
func (l Layout) Servers() int { return l.X * l.Y }

// Settings describes one simulation. A Settings value is never modified in
// place; the With methods return adjusted copies.
type Settings struct {
	Layout        Layout
	ObjectHosts   int
	Duration      time.Duration
	TimeLimit     time.Duration
	Blocksize     int
	TxBandwidth   int64
	RxBandwidth   int64
	FlowScheduler string

	Scenario        string
	ScenarioOptions []string

	OSegCacheSize          int
	OSegCacheCleanGroup    int
	OSegCacheEntryLifetime time.Duration
	OSegLookupQueueSize    int

	NumRandomObjects   int
	NumPackObjects     int
	ObjectPack         string
	PackDump           bool
	ObjectConnectPhase time.Duration
	ObjectStatic       string
	ObjectQueryFrac    float64

	// Traces maps a trace group to the trace kinds enabled for it.
	Traces map[string][]string
	// LogLevels maps a module to its log level.
	LogLevels map[string]string
	// Extra holds options passed to every process unchanged.
	Extra []string
}

// DefaultSettings returns the baseline simulation.
func DefaultSettings() Settings {
	return Settings{
		Layout:                 Layout{2, 1},
		ObjectHosts:            1,
		Duration:               100 * time.Second,
		TimeLimit:              10 * time.Minute,
		Blocksize:              100,
		TxBandwidth:            50000000,
		RxBandwidth:            5000000,
		FlowScheduler:          "region",
		Scenario:               "ping",
		OSegCacheSize:          200,
		OSegCacheCleanGroup:    25,
		OSegCacheEntryLifetime: 8 * time.Second,
		OSegLookupQueueSize:    2000,
		NumRandomObjects:       100,
		ObjectConnectPhase:     0,
		ObjectStatic:           "random",
		ObjectQueryFrac:        0,
		Traces:                 map[string][]string{TraceAll: nil, TraceSpace: nil, TraceSimOH: nil},
		LogLevels:              map[string]string{},
	}
}

func (s Settings) clone() Settings {
	c := s
	c.ScenarioOptions = slices.Clone(s.ScenarioOptions)
	c.Extra = slices.Clone(s.Extra)
	c.Traces = make(map[string][]string, len(s.Traces))
	for k, v := range s.Traces {
		c.Traces[k] = slices.Clone(v)
	}
	c.LogLevels = maps.Clone(s.LogLevels)
	if c.LogLevels == nil {
		c.LogLevels = map[string]string{}
	}
	return c
}

// With returns a copy of s changed by f. f receives a private copy and may
// modify it freely.
func (s Settings) With(f func(s *Settings)) Settings {
	c := s.clone()
	f(&c)
	return c
}

// WithLayout returns s with a different region grid.
func (s Settings) WithLayout(x, y int) Settings {
	return s.With(func(c *Settings) { c.Layout = Layout{x, y} })
}

// WithDuration returns s with a different simulated duration.
func (s Settings) WithDuration(d time.Duration) Settings {
	return s.With(func(c *Settings) { c.Duration = d })
}

// WithScenario returns s running the named scenario with opts.
func (s Settings) WithScenario(name string, opts ...string) Settings {
	return s.With(func(c *Settings) {
		c.Scenario = name
		c.ScenarioOptions = slices.Clone(opts)
	})
}

// WithTrace returns s with kind traced in group. Tracing is idempotent.
func (s Settings) WithTrace(group, kind string) Settings {
	return s.With(func(c *Settings) {
		if !slices.Contains(c.Traces[group], kind) {
			c.Traces[group] = append(c.Traces[group], kind)
		}
	})
}

// WithLogLevel returns s logging module at level.
func (s Settings) WithLogLevel(module, level string) Settings {
	return s.With(func(c *Settings) { c.LogLevels[module] = level })
}

// WithExtra returns s with opts appended to every command line.
func (s Settings) WithExtra(opts ...string) Settings {
	return s.With(func(c *Settings) { c.Extra = append(c.Extra, opts...) })
}
