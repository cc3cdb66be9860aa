// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loggingtest provides a logger for unit tests.
package loggingtest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.sirikata.org/harness/internal/logging"
)

// Logger records entries at or above a level and mirrors everything to t.Log.
type Logger struct {
	t   *testing.T
	min logging.Level

	mu   sync.Mutex
	logs []string
}

// NewLogger returns a Logger recording entries at or above min.
func NewLogger(t *testing.T, min logging.Level) *Logger {
	return &Logger{t: t, min: min}
}

// Log implements logging.Logger.
func (l *Logger) Log(level logging.Level, ts time.Time, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.t.Log(msg)
	if level >= l.min {
		l.logs = append(l.logs, msg)
	}
}

// Logs returns the recorded messages.
func (l *Logger) Logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.logs...)
}

// String joins the recorded messages with newlines.
func (l *Logger) String() string {
	return strings.Join(l.Logs(), "\n")
}

// Context returns a background context with a new Logger attached at
// LevelDebug, and the logger itself.
func Context(t *testing.T) (context.Context, *Logger) {
	l := NewLogger(t, logging.LevelDebug)
	return logging.AttachLogger(context.Background(), l), l
}
