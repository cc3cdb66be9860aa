// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler calls callback on the first SIGINT or SIGTERM, then
// terminates this process's children and exits with status 1.
//
// Simulation processes run in their own sessions and do not see a terminal
// interrupt, so the handler signals each child's process group as well.
func InstallSignalHandler(out io.Writer, callback func(sig os.Signal)) {
	ch := make(chan os.Signal, 1)
	go func() {
		sig := <-ch
		fmt.Fprintf(out, "\n%s: caught %v; stopping child processes\n", selfName, sig)
		callback(sig)
		TerminateChildren(out)
		os.Exit(1)
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
}

// TerminateChildren sends SIGTERM to every direct child of this process and
// to the process group each child leads.
func TerminateChildren(out io.Writer) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		fmt.Fprintf(out, "Failed to inspect self: %v\n", err)
		return
	}
	children, err := self.Children()
	if err != nil {
		// gopsutil reports ErrorNoChildren when there are none.
		return
	}
	for _, c := range children {
		unix.Kill(-int(c.Pid), unix.SIGTERM)
		c.Terminate()
	}
}
