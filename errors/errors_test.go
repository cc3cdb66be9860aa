// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"regexp"
	"testing"
)

func checkErr(t *testing.T, err error, msg string, re *regexp.Regexp) {
	t.Helper()
	if s := err.Error(); s != msg {
		t.Errorf("Error() = %q; want %q", s, msg)
	}
	if s := fmt.Sprintf("%v", err); s != msg {
		t.Errorf("%%v = %q; want %q", s, msg)
	}
	if tr := fmt.Sprintf("%+v", err); !re.MatchString(tr) {
		t.Errorf("%%+v = %q; should match %q", tr, re)
	}
}

func TestNew(t *testing.T) {
	err := New("no hosts")
	checkErr(t, err, "no hosts", regexp.MustCompile(`^no hosts
	at go\.sirikata\.org/harness/errors\.TestNew \(errors_test.go:\d+\)`))
}

func TestErrorf(t *testing.T) {
	err := Errorf("host %d down", 3)
	checkErr(t, err, "host 3 down", regexp.MustCompile(`^host 3 down
	at go\.sirikata\.org/harness/errors\.TestErrorf \(errors_test.go:\d+\)`))
}

func TestWrap(t *testing.T) {
	err := Wrap(New("refused"), "connect")
	checkErr(t, err, "connect: refused", regexp.MustCompile(`(?s)^connect
	at go\.sirikata\.org/harness/errors\.TestWrap \(errors_test.go:\d+\)
.*
refused
	at go\.sirikata\.org/harness/errors\.TestWrap \(errors_test.go:\d+\)`))
}

func TestWrapForeign(t *testing.T) {
	err := Wrapf(stderrors.New("refused"), "connect to %s", "h1")
	checkErr(t, err, "connect to h1: refused", regexp.MustCompile(`(?s)^connect to h1
.*
refused
	at \?\?\?$`))
}

func TestWrapNil(t *testing.T) {
	err := Wrap(nil, "alone")
	checkErr(t, err, "alone", regexp.MustCompile(`^alone
	at go\.sirikata\.org/harness/errors\.TestWrapNil`))
}

func TestIsAs(t *testing.T) {
	sentinel := New("sentinel")
	err := Wrap(Wrap(sentinel, "inner"), "outer")
	if !Is(err, sentinel) {
		t.Error("Is did not find sentinel in chain")
	}

	_, statErr := os.Stat("/nonexistent/harness/path")
	wrapped := Wrap(statErr, "stat")
	var pe *os.PathError
	if !As(wrapped, &pe) {
		t.Fatal("As did not find *os.PathError")
	}
	if pe.Path != "/nonexistent/harness/path" {
		t.Errorf("PathError.Path = %q", pe.Path)
	}
}
