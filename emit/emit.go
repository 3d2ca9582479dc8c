// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package emit renders a restore plan as C-like source statements.
//
// Every array argument is declared as a variable and filled from constant
// chunks of at most a configured number of elements, each in a block of its
// own, so no single initializer grows with the size of the plan.
package emit

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/substate/core/text/reflow"
	"github.com/google/substate/driver"
	"github.com/google/substate/rebuild"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

var (
	handleType = reflect.TypeOf(driver.Handle(0))
	idType     = reflect.TypeOf(tracker.ID(0))
)

type emitter struct {
	w      *reflow.Writer
	plan   *rebuild.Plan
	max    int
	arrays int
	err    error
}

// Write renders plan to w. Arrays are split into chunks of at most
// maxChunk elements.
func Write(w io.Writer, plan *rebuild.Plan, maxChunk int) error {
	if maxChunk <= 0 {
		return errors.Errorf("Invalid chunk size %d", maxChunk)
	}
	e := &emitter{w: reflow.New(w), plan: plan, max: maxChunk}
	e.line("// Restore plan: %d ops, %d payload bytes.", len(plan.Ops), plan.PayloadBytes())
	for _, err := range plan.Errors {
		e.line("// %v", err)
	}
	e.line("void restore() {»")
	for i, op := range plan.Ops {
		if err := e.op(op); err != nil {
			return errors.Wrapf(err, "op %d (%v)", i, op)
		}
		if e.err != nil {
			return e.err
		}
	}
	e.line("«}")
	return e.err
}

func (e *emitter) line(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format+"\n", args...)
}

func (e *emitter) op(op rebuild.Op) error {
	h := handle
	switch op := op.(type) {
	case *rebuild.CreateOp:
		info := e.value(reflect.ValueOf(op.Info))
		suffix := ""
		if op.Transient {
			suffix = " // transient"
		}
		e.line("Handle %s = create(%s, %s);%s", h(op.ID), h(op.Parent), info, suffix)
	case *rebuild.DestroyOp:
		e.line("destroy(%s, %v, %s);", h(op.Parent), op.Kind, h(op.ID))
	case *rebuild.BindMemoryOp:
		fn := "bindBufferMemory"
		if op.Kind == driver.Image {
			fn = "bindImageMemory"
		}
		e.line("%s(%s, %s, %s, %d);", fn, h(op.Device), h(op.Resource), h(op.Memory), op.Offset)
	case *rebuild.BindSparseOp:
		binds := e.value(reflect.ValueOf(op.Binds))
		e.line("bindSparse(%s, %s, %d);", h(op.Queue), binds, len(op.Binds))
	case *rebuild.MapMemoryOp:
		e.line("mapMemory(%s, %s, %d, %s);", h(op.Device), h(op.Memory), op.Offset, number(op.Size))
	case *rebuild.WriteMemoryOp:
		data, ok := e.plan.Blobs[op.Blob]
		if !ok || uint64(len(data)) != op.Size {
			return errors.Wrapf(rebuild.ErrMissingBlob, "%v", op.Blob)
		}
		arr := e.value(reflect.ValueOf(data))
		e.line("writeMemory(%s, %s, %d, %d, %s);", h(op.Device), h(op.Memory), op.Offset, op.Size, arr)
	case *rebuild.UpdateDescriptorsOp:
		writes := e.value(reflect.ValueOf(op.Writes))
		e.line("updateDescriptorSets(%s, %s, %d);", h(op.Device), writes, len(op.Writes))
	case *rebuild.RecordCommandsOp:
		e.line("beginCommandBuffer(%s, %s);", h(op.CommandBuffer), e.value(reflect.ValueOf(op.Begin)))
		for _, c := range op.Commands {
			e.line("record(%s, %s);", h(op.CommandBuffer), e.value(reflect.ValueOf(c)))
		}
		if op.End {
			e.line("endCommandBuffer(%s);", h(op.CommandBuffer))
		}
	case *rebuild.SubmitOp:
		e.line("// %s", op.Label)
		cmds := e.value(reflect.ValueOf(op.Commands))
		e.line("submit(%s, %s, %s, %d);", h(op.Queue), h(op.Pool), cmds, len(op.Commands))
	case *rebuild.SignalOp:
		if op.Kind == driver.Event {
			e.line("setEvent(%s, %s);", h(op.Device), h(op.Object))
		} else {
			e.line("signalSemaphore(%s, %s);", h(op.Queue), h(op.Object))
		}
	case *rebuild.PatchAddressesOp:
		locations := e.value(reflect.ValueOf(op.Locations))
		table := e.value(reflect.ValueOf(op.Table))
		e.line("patchAddresses(%s, %s, %s, %s, %s, %d, %s, %d);",
			h(op.Device), h(op.Queue), h(op.Pool), h(op.Target),
			locations, len(op.Locations), table, len(op.Table))
	default:
		return errors.Errorf("Unknown op %T", op)
	}
	return nil
}

func handle(id tracker.ID) string {
	if id == 0 {
		return "0"
	}
	return fmt.Sprintf("h%d", uint64(id))
}

// number renders large values, such as addresses and sizes that mean
// "whole", in hex.
func number(v uint64) string {
	if v >= 1<<32 {
		return fmt.Sprintf("%#x", v)
	}
	return strconv.FormatUint(v, 10)
}

// value returns the expression for v. Slices are declared as arrays before
// the statement that uses them.
func (e *emitter) value(v reflect.Value) string {
	if !v.IsValid() {
		return "0"
	}
	switch v.Type() {
	case handleType, idType:
		return handle(tracker.ID(v.Uint()))
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return "0"
		}
		return e.value(v.Elem())
	case reflect.Struct:
		fields := []string{}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := v.Field(i)
			if t.Field(i).PkgPath != "" || f.IsZero() {
				continue
			}
			fields = append(fields, fmt.Sprintf("%s: %s", t.Field(i).Name, e.value(f)))
		}
		return fmt.Sprintf("%s{%s}", t.Name(), strings.Join(fields, ", "))
	case reflect.Slice:
		if v.Len() == 0 {
			return "0"
		}
		return e.array(v)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.String:
		return strconv.Quote(v.String())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := stringer(v); ok {
			return s
		}
		if v.Kind() == reflect.Uint8 {
			return fmt.Sprintf("0x%02x", v.Uint())
		}
		return number(v.Uint())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := stringer(v); ok {
			return s
		}
		return strconv.FormatInt(v.Int(), 10)
	}
	return fmt.Sprint(v.Interface())
}

func stringer(v reflect.Value) (string, bool) {
	if v.Type().PkgPath() == "" || !v.CanInterface() {
		return "", false
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String(), true
	}
	return "", false
}

// array declares a variable holding the elements of v and fills it chunk
// by chunk. It returns the variable name.
func (e *emitter) array(v reflect.Value) string {
	elems := make([]string, v.Len())
	for i := range elems {
		elems[i] = e.value(v.Index(i))
	}
	typ := typeName(v.Type().Elem())
	name := fmt.Sprintf("a%d", e.arrays)
	e.arrays++
	perRow := 1
	switch v.Type().Elem().Kind() {
	case reflect.Uint8:
		perRow = 16
	case reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Int, reflect.Int32, reflect.Int64:
		perRow = 8
	}
	e.line("%s %s[%d];", typ, name, len(elems))
	for start := 0; start < len(elems); start += e.max {
		end := start + e.max
		if end > len(elems) {
			end = len(elems)
		}
		e.line("{»")
		e.line("const %s chunk[] = {»", typ)
		for row := start; row < end; row += perRow {
			last := row + perRow
			if last > end {
				last = end
			}
			e.line("%s,", strings.Join(elems[row:last], ", "))
		}
		e.line("«};")
		e.line("copy(%s + %d, chunk, %d);", name, start, end-start)
		e.line("«}")
	}
	return name
}

func typeName(t reflect.Type) string {
	switch {
	case t == handleType:
		return "Handle"
	case t.Kind() == reflect.Ptr:
		return typeName(t.Elem())
	case t.PkgPath() != "":
		return t.Name()
	}
	switch t.Kind() {
	case reflect.Uint8:
		return "uint8_t"
	case reflect.Uint16:
		return "uint16_t"
	case reflect.Uint32:
		return "uint32_t"
	case reflect.Uint64:
		return "uint64_t"
	case reflect.Int:
		return "int"
	case reflect.Bool:
		return "bool"
	case reflect.String:
		return "const char*"
	}
	return t.String()
}
