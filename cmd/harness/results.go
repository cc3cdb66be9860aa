// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.sirikata.org/harness/internal/logging"
	"go.sirikata.org/harness/internal/timing"
)

const (
	baseResultsDir       = "/tmp/harness/results" // base directory under which results are written
	latestResultsSymlink = "latest"               // symlink in baseResultsDir pointing at latest results

	fullLogName   = "full.txt"    // file in the result dir containing full output
	timingLogName = "timing.json" // file in the result dir containing timing information
)

// resultDir is the per-invocation output directory of a subcommand.
type resultDir struct {
	path    string
	tl      *timing.Log
	st      *timing.Stage
	fullLog *os.File
}

// openResultDir creates dir, or a fresh timestamped directory when dir is
// empty, and starts logging to its full log. The returned context carries
// the full logger and a timing log; close writes the timing log.
func openResultDir(ctx context.Context, dir string) (context.Context, *resultDir, error) {
	if dir == "" {
		dir = filepath.Join(baseResultsDir, time.Now().Format("20060102-150405"))
		if err := os.MkdirAll(baseResultsDir, 0755); err != nil {
			return ctx, nil, err
		}
		link := filepath.Join(baseResultsDir, latestResultsSymlink)
		os.Remove(link)
		if err := os.Symlink(filepath.Base(dir), link); err != nil {
			logging.Warning(ctx, "Failed to create results symlink: ", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ctx, nil, err
	}
	fullLog, err := os.Create(filepath.Join(dir, fullLogName))
	if err != nil {
		return ctx, nil, err
	}
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(fullLog)))

	tl := timing.NewLog()
	ctx = timing.NewContext(ctx, tl)
	rd := &resultDir{path: dir, tl: tl, st: tl.Start("exec"), fullLog: fullLog}

	logging.Debug(ctx, "Command line: ", strings.Join(os.Args, " "))
	logging.Info(ctx, "Writing results to ", dir)
	return ctx, rd, nil
}

// close writes the timing log and closes the full log.
func (rd *resultDir) close(ctx context.Context) {
	rd.st.End()
	f, err := os.Create(filepath.Join(rd.path, timingLogName))
	if err != nil {
		logging.Warning(ctx, err)
	} else {
		if err := rd.tl.Write(f); err != nil {
			logging.Warning(ctx, err)
		}
		f.Close()
	}
	rd.fullLog.Close()
}
