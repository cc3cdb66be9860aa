// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging routes harness logs through loggers attached to a
// context.Context.
//
// The CLI attaches a console logger and a full-log file logger to the root
// context; library code only calls Info, Debug or Warning on the context it
// was handed.
package logging

import (
	"sync"
	"time"
)

// Level is the importance of a log entry. Larger is more important.
type Level int

const (
	// LevelDebug is for verbose diagnostics, hidden from the console by default.
	LevelDebug Level = iota
	// LevelInfo is for progress messages.
	LevelInfo
	// LevelWarning is for recoverable problems such as an unreachable host.
	LevelWarning
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	}
	return "UNKNOWN"
}

// Logger consumes log entries emitted through a context.
type Logger interface {
	Log(level Level, ts time.Time, msg string)
}

// MultiLogger fans entries out to a changeable set of loggers.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger returns a MultiLogger writing to loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log forwards an entry to every current logger.
func (m *MultiLogger) Log(level Level, ts time.Time, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loggers {
		l.Log(level, ts, msg)
	}
}

// AddLogger starts forwarding entries to l.
func (m *MultiLogger) AddLogger(l Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggers = append(m.loggers, l)
}

// RemoveLogger stops forwarding entries to l.
func (m *MultiLogger) RemoveLogger(l Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.loggers[:0]
	for _, x := range m.loggers {
		if x != l {
			kept = append(kept, x)
		}
	}
	m.loggers = kept
}

// FuncLogger is a Logger backed by a function. Calls are serialized.
type FuncLogger struct {
	mu sync.Mutex
	f  func(level Level, ts time.Time, msg string)
}

// NewFuncLogger wraps f as a Logger.
func NewFuncLogger(f func(level Level, ts time.Time, msg string)) *FuncLogger {
	return &FuncLogger{f: f}
}

// Log calls the wrapped function.
func (l *FuncLogger) Log(level Level, ts time.Time, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f(level, ts, msg)
}
