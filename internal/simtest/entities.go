// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package simtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.sirikata.org/harness/errors"
)

// Vec3 is a position, velocity or scale.
type Vec3 [3]float64

// Quat is an orientation or angular velocity quaternion.
type Quat [4]float64

// Identity is the quaternion of no rotation.
var Identity = Quat{0, 0, 0, 1}

// Entity is one row of the object database read by the object host's CSV
// object factory.
type Entity struct {
	ObjType    string
	Subtype    string
	Pos        Vec3
	Orient     Quat
	Vel        Vec3
	AngVel     Quat
	Mesh       string
	Scale      float64
	ScriptType string
	ScriptFile string
}

// NewScripted returns a mesh object at pos that runs a script.
func NewScripted(pos Vec3, scriptType, scriptFile string) Entity {
	return Entity{
		ObjType:    "mesh",
		Pos:        pos,
		Orient:     Identity,
		AngVel:     Identity,
		Mesh:       "meerkat:///danielrh/Insteon.dae",
		Scale:      1,
		ScriptType: scriptType,
		ScriptFile: scriptFile,
	}
}

// entityHeader is the column layout of the object database.
var entityHeader = []string{
	"objtype", "subtype",
	"pos_x", "pos_y", "pos_z",
	"orient_x", "orient_y", "orient_z", "orient_w",
	"vel_x", "vel_y", "vel_z",
	"rot_axis_x", "rot_axis_y", "rot_axis_z", "rot_speed",
	"meshURI", "scale",
	"script_type", "script_file",
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func (e *Entity) record() []string {
	rec := []string{e.ObjType, e.Subtype}
	for _, f := range e.Pos {
		rec = append(rec, formatFloat(f))
	}
	for _, f := range e.Orient {
		rec = append(rec, formatFloat(f))
	}
	for _, f := range e.Vel {
		rec = append(rec, formatFloat(f))
	}
	for _, f := range e.AngVel {
		rec = append(rec, formatFloat(f))
	}
	return append(rec, e.Mesh, formatFloat(e.Scale), e.ScriptType, e.ScriptFile)
}

// EncodeEntities writes ents to w as CSV with a header row.
func EncodeEntities(w io.Writer, ents []Entity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(entityHeader); err != nil {
		return err
	}
	for i := range ents {
		if err := cw.Write(ents[i].record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEntities creates the object database file at path.
func WriteEntities(path string, ents []Entity) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create object database")
	}
	if err := EncodeEntities(f, ents); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}

// DecodeEntities parses a database written by EncodeEntities.
func DecodeEntities(r io.Reader) ([]Entity, error) {
	recs, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.New("missing header")
	}
	if len(recs[0]) != len(entityHeader) {
		return nil, errors.Errorf("header has %d columns; want %d", len(recs[0]), len(entityHeader))
	}
	var ents []Entity
	for n, rec := range recs[1:] {
		var e Entity
		nums := make([]float64, 0, 15)
		for i := 2; i < 16; i++ {
			f, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d column %s", n+1, entityHeader[i])
			}
			nums = append(nums, f)
		}
		scale, err := strconv.ParseFloat(rec[17], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d column scale", n+1)
		}
		e.ObjType, e.Subtype = rec[0], rec[1]
		copy(e.Pos[:], nums[0:3])
		copy(e.Orient[:], nums[3:7])
		copy(e.Vel[:], nums[7:10])
		copy(e.AngVel[:], nums[10:14])
		e.Mesh, e.Scale = rec[16], scale
		e.ScriptType, e.ScriptFile = rec[18], rec[19]
		ents = append(ents, e)
	}
	return ents, nil
}

func (e Entity) String() string {
	return fmt.Sprintf("%s@%v", e.ObjType, e.Pos)
}
