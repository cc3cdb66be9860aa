// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timing records how long the stages of a harness run take.
package timing

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

type logKey struct{}

// Log is a tree of timed stages. A newly started stage becomes a child of
// the innermost stage that is still running.
type Log struct {
	clk clock.Clock

	mu     sync.Mutex
	Stages []*Stage
}

// NewLog returns an empty Log driven by the wall clock.
func NewLog() *Log { return NewLogWithClock(clock.NewClock()) }

// NewLogWithClock returns an empty Log driven by clk.
func NewLogWithClock(clk clock.Clock) *Log { return &Log{clk: clk} }

// NewContext attaches l to ctx.
func NewContext(ctx context.Context, l *Log) context.Context {
	return context.WithValue(ctx, logKey{}, l)
}

// FromContext returns the Log attached to ctx.
func FromContext(ctx context.Context) (*Log, bool) {
	l, ok := ctx.Value(logKey{}).(*Log)
	return l, ok
}

// Start begins a stage in the Log attached to ctx. It returns nil when no
// Log is attached; ending a nil stage is a no-op, so callers can write
//
//	defer timing.Start(ctx, "collect").End()
func Start(ctx context.Context, name string) *Stage {
	l, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return l.Start(name)
}

// Start begins a stage named name.
func (l *Log) Start(name string) *Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &Stage{Name: name, StartTime: l.clk.Now(), log: l}
	if p := l.running(); p != nil {
		p.Children = append(p.Children, s)
	} else {
		l.Stages = append(l.Stages, s)
	}
	return s
}

// running returns the innermost running stage, or nil. l.mu must be held.
func (l *Log) running() *Stage {
	if len(l.Stages) == 0 || !l.Stages[len(l.Stages)-1].open() {
		return nil
	}
	p := l.Stages[len(l.Stages)-1]
	for len(p.Children) > 0 && p.Children[len(p.Children)-1].open() {
		p = p.Children[len(p.Children)-1]
	}
	return p
}

// Empty reports whether no stage was ever started.
func (l *Log) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Stages) == 0
}

type jsonStage struct {
	Name     string       `json:"name"`
	Seconds  float64      `json:"seconds"`
	Children []*jsonStage `json:"children,omitempty"`
}

// Write writes the stage tree to w as indented JSON with elapsed seconds
// per stage.
func (l *Log) Write(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var conv func(ss []*Stage) []*jsonStage
	conv = func(ss []*Stage) []*jsonStage {
		var out []*jsonStage
		for _, s := range ss {
			out = append(out, &jsonStage{
				Name:     s.Name,
				Seconds:  float64(s.elapsed(l.clk.Now())/time.Millisecond) / 1000,
				Children: conv(s.Children),
			})
		}
		return out
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	stages := conv(l.Stages)
	if stages == nil {
		stages = []*jsonStage{}
	}
	return enc.Encode(stages)
}

// Stage is one timed unit of work.
type Stage struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Children  []*Stage

	log *Log
}

func (s *Stage) open() bool { return s.EndTime.IsZero() }

func (s *Stage) elapsed(now time.Time) time.Duration {
	if s.open() {
		return now.Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// End finishes s and any children left running.
func (s *Stage) End() {
	if s == nil {
		return
	}
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.end(s.log.clk.Now())
}

func (s *Stage) end(now time.Time) {
	for _, c := range s.Children {
		c.end(now)
	}
	if s.open() {
		s.EndTime = now
	}
}

// Elapsed returns the stage's duration so far.
func (s *Stage) Elapsed() time.Duration {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.elapsed(s.log.clk.Now())
}
