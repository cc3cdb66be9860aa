// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package simtest

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeEntities(t *testing.T) {
	var buf bytes.Buffer
	ents := []Entity{{
		ObjType:    "mesh",
		Pos:        Vec3{1, -2.5, 3},
		Orient:     Identity,
		AngVel:     Identity,
		Mesh:       "meerkat:///test/box.dae",
		Scale:      0.5,
		ScriptType: "js",
		ScriptFile: "a,b.em",
	}}
	if err := EncodeEntities(&buf, ents); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Got %d lines; want 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "objtype,subtype,pos_x,") {
		t.Errorf("Header = %q", lines[0])
	}
	const want = `mesh,,1,-2.5,3,0,0,0,1,0,0,0,0,0,0,1,meerkat:///test/box.dae,0.5,js,"a,b.em"`
	if lines[1] != want {
		t.Errorf("Row = %q; want %q", lines[1], want)
	}
}

func TestDecodeEntitiesErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"shortHeader", "objtype,subtype\n"},
		{"badNumber", strings.Join(entityHeader, ",") + "\nmesh,,x,0,0,0,0,0,1,0,0,0,0,0,0,1,m,1,,\n"},
	} {
		if _, err := DecodeEntities(strings.NewReader(tc.data)); err == nil {
			t.Errorf("%s: DecodeEntities succeeded unexpectedly", tc.name)
		}
	}
}
