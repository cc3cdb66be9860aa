// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type loggerKey struct{}

type prefixKey struct{}

// AttachLogger returns a context whose logs go to l and to any logger already
// attached to ctx.
func AttachLogger(ctx context.Context, l Logger) context.Context {
	if parent, ok := ctx.Value(loggerKey{}).(Logger); ok {
		l = NewMultiLogger(l, parent)
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// AttachLoggerNoPropagation is like AttachLogger but hides logs from the
// loggers attached to ctx.
func AttachLoggerNoPropagation(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// HasLogger reports whether a logger is attached to ctx.
func HasLogger(ctx context.Context) bool {
	_, ok := ctx.Value(loggerKey{}).(Logger)
	return ok
}

// WithPrefix returns a context that prepends prefix to every log message,
// e.g. "[host1] ".
func WithPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, prefixKey{}, prefix)
}

// Debug logs at LevelDebug.
func Debug(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelDebug, fmt.Sprint(args...))
}

// Debugf logs a formatted message at LevelDebug.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelDebug, fmt.Sprintf(format, args...))
}

// Info logs at LevelInfo.
func Info(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelInfo, fmt.Sprint(args...))
}

// Infof logs a formatted message at LevelInfo.
func Infof(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

// Warning logs at LevelWarning.
func Warning(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelWarning, fmt.Sprint(args...))
}

// Warningf logs a formatted message at LevelWarning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelWarning, fmt.Sprintf(format, args...))
}

func emit(ctx context.Context, level Level, msg string) {
	ts := time.Now()
	l, ok := ctx.Value(loggerKey{}).(Logger)
	if !ok {
		return
	}
	if p, ok := ctx.Value(prefixKey{}).(string); ok {
		msg = p + msg
	}
	l.Log(level, ts, strings.ToValidUTF8(msg, ""))
}
