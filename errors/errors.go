// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors constructs errors that carry the stack where they were
// created and the error chain that led to them.
//
// Use New or Errorf for fresh errors and Wrap or Wrapf to add context:
//
//	errors.Errorf("host %s unreachable", name)
//	errors.Wrap(err, "failed to start object host")
//
// Formatting an error with "%+v" prints every link of the chain followed by
// its stack trace. Errors created here cooperate with the standard library's
// errors.Is and errors.As through Unwrap; this package re-exports both.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"go.sirikata.org/harness/errors/stack"
)

// chained is the error type returned by every constructor in this package.
type chained struct {
	msg   string
	stk   stack.Stack
	cause error
}

func (e *chained) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

// Unwrap returns the wrapped error, if any.
func (e *chained) Unwrap() error { return e.cause }

// Format supports "%+v" for printing the chain with stack traces.
func (e *chained) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, trace(e))
		return
	}
	io.WriteString(s, e.Error())
}

func trace(err error) string {
	var parts []string
	for err != nil {
		e, ok := err.(*chained)
		if !ok {
			parts = append(parts, err.Error()+"\n\tat ???")
			break
		}
		parts = append(parts, e.msg+"\n"+e.stk.String())
		err = e.cause
	}
	return strings.Join(parts, "\n")
}

// New returns an error with msg, recording the caller's location.
func New(msg string) error {
	return &chained{msg: msg, stk: stack.New(1)}
}

// Errorf is like New with fmt.Sprintf formatting.
func Errorf(format string, args ...interface{}) error {
	return &chained{msg: fmt.Sprintf(format, args...), stk: stack.New(1)}
}

// Wrap returns an error with msg that wraps cause. If cause is nil, it
// behaves like New.
func Wrap(cause error, msg string) error {
	return &chained{msg: msg, stk: stack.New(1), cause: cause}
}

// Wrapf is like Wrap with fmt.Sprintf formatting.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &chained{msg: fmt.Sprintf(format, args...), stk: stack.New(1), cause: cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }
