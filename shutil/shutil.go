// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package shutil quotes arguments for /bin/sh and composes shell command
// lines that are sent to cluster hosts.
package shutil

import (
	"fmt"
	"regexp"
	"strings"
)

// Characters that never need quoting. A leading "=" triggers expansion in zsh,
// so it is only allowed after the first character.
const (
	headSafe = `-\w@%+:,./`
	tailSafe = headSafe + "="
)

var plainArg = regexp.MustCompile(fmt.Sprintf("^[%s][%s]*$", headSafe, tailSafe))

// Escape quotes s for use as a single shell word. Words that are already
// safe are returned unchanged.
func Escape(s string) string {
	if plainArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// EscapeSlice quotes every element of args and joins them with spaces.
func EscapeSlice(args []string) string {
	words := make([]string, 0, len(args))
	for _, a := range args {
		words = append(words, Escape(a))
	}
	return strings.Join(words, " ")
}

// Command is a complete shell command line.
type Command string

// Args builds a Command that runs a single program with literal arguments.
func Args(args ...string) Command {
	return Command(EscapeSlice(args))
}

// Line wraps a command line that already contains shell syntax.
func Line(s string) Command { return Command(s) }

// Concat joins commands with ";" so they run in sequence within one shell.
// A failing stage does not stop later ones, and the resulting exit code is
// that of the last stage. A stage that calls exit ends the whole command.
func Concat(cmds ...Command) Command {
	return join("; ", cmds)
}

// AndThen joins commands with "&&" so the first failing stage stops the chain.
func AndThen(cmds ...Command) Command {
	return join(" && ", cmds)
}

// MissingDirStatus is the exit status of an InDir command whose directory
// does not exist.
const MissingDirStatus = 125

// InDir prefixes c with a change to dir. If dir cannot be entered the shell
// exits with MissingDirStatus and c does not run.
func InDir(dir string, c Command) Command {
	return Command(fmt.Sprintf("cd %s >/dev/null 2>&1 || exit %d; %s", Escape(dir), MissingDirStatus, c))
}

func join(sep string, cmds []Command) Command {
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if c == "" {
			continue
		}
		parts = append(parts, string(c))
	}
	return Command(strings.Join(parts, sep))
}
