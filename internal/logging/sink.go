// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Sink is a destination of formatted log lines, such as the console or a
// log file.
type Sink interface {
	Log(msg string)
}

// WriterSink writes one line per entry to an io.Writer. Writes are serialized.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a Sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Log writes msg followed by a newline.
func (s *WriterSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, msg)
}

// SinkLogger filters entries by level and hands them to a Sink.
type SinkLogger struct {
	min       Level
	timestamp bool
	sink      Sink
}

// NewSinkLogger returns a Logger passing entries at or above min to sink.
// When timestamp is set, each line starts with the entry's UTC time.
func NewSinkLogger(min Level, timestamp bool, sink Sink) *SinkLogger {
	return &SinkLogger{min: min, timestamp: timestamp, sink: sink}
}

// Log implements Logger.
func (l *SinkLogger) Log(level Level, ts time.Time, msg string) {
	if level < l.min {
		return
	}
	if level == LevelWarning {
		msg = "WARNING: " + msg
	}
	if l.timestamp {
		msg = ts.UTC().Format("2006-01-02T15:04:05.000000Z ") + msg
	}
	l.sink.Log(msg)
}
