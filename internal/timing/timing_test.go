// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"
)

func TestNesting(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	l := NewLogWithClock(fc)
	ctx := NewContext(context.Background(), l)

	sweep := Start(ctx, "sweep")
	run := Start(ctx, "rate_100")
	fc.Increment(2 * time.Second)
	collect := Start(ctx, "collect")
	fc.Increment(500 * time.Millisecond)
	collect.End()
	run.End()
	fc.Increment(time.Second)
	sweep.End()
	Start(ctx, "graph").End()

	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		t.Fatal("Write failed: ", err)
	}
	var got []*jsonStage
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal(%q) failed: %v", buf.String(), err)
	}
	want := []*jsonStage{
		{Name: "sweep", Seconds: 3.5, Children: []*jsonStage{
			{Name: "rate_100", Seconds: 2.5, Children: []*jsonStage{
				{Name: "collect", Seconds: 0.5},
			}},
		}},
		{Name: "graph", Seconds: 0},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Write mismatch (-got +want):\n%s", diff)
	}
}

func TestStartWithoutLog(t *testing.T) {
	s := Start(context.Background(), "orphan")
	if s != nil {
		t.Errorf("Start without Log = %v; want nil", s)
	}
	s.End()
}
