// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains helpers shared by the harness subcommands.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// EnumFlag is a flag.Value that accepts one of a fixed set of names and
// assigns the corresponding integer through a callback.
type EnumFlag struct {
	valid  map[string]int
	assign func(val int)
	def    string
}

// NewEnumFlag returns an EnumFlag that is set to def immediately.
// It panics if def is not in valid.
func NewEnumFlag(valid map[string]int, assign func(val int), def string) *EnumFlag {
	f := &EnumFlag{valid: valid, assign: assign, def: def}
	if err := f.Set(def); err != nil {
		panic(err)
	}
	return f
}

// Default returns the value assigned when the flag is not given.
func (f *EnumFlag) Default() string { return f.def }

// QuotedValues lists the accepted names, sorted and quoted.
func (f *EnumFlag) QuotedValues() string {
	var names []string
	for n := range f.valid {
		names = append(names, fmt.Sprintf("%q", n))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (f *EnumFlag) String() string { return "" }

// Set implements flag.Value.
func (f *EnumFlag) Set(v string) error {
	n, ok := f.valid[v]
	if !ok {
		return fmt.Errorf("must be in %s", f.QuotedValues())
	}
	f.assign(n)
	return nil
}

// ListFlag is a flag.Value holding a comma-separated list. Empty elements
// are dropped.
type ListFlag struct {
	dst *[]string
}

// NewListFlag returns a ListFlag storing into dst, which keeps its current
// value until the flag is set.
func NewListFlag(dst *[]string) *ListFlag { return &ListFlag{dst} }

func (f *ListFlag) String() string {
	if f == nil || f.dst == nil {
		return ""
	}
	return strings.Join(*f.dst, ",")
}

// Set implements flag.Value.
func (f *ListFlag) Set(v string) error {
	var items []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	*f.dst = items
	return nil
}
