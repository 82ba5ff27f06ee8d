// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package executor is the write pipeline executor: a tree of
// stages, each reading upstream rows and optionally mutating the active
// snapshot, pulled one item at a time with an interrupt check between every
// item.
//
// A stage exposes next/cancel closures: next blocks on upstream work until
// a row is ready, an error occurs, or cancel was called.
package executor

import (
	"context"
	"errors"

	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/storage/keys"
)

// Done is returned by a Stage's next function once it is exhausted.
var Done = errors.New("executor: no more rows")

// Binding is the value bound to one pattern variable within a Row: an
// instance's kind, schema type, and per-type instance id. Role-type
// variables are resolved to schema.IDs directly by the operator tree rather
// than carried as row bindings (the RoleType category denotes a schema
// type, not a data instance).
type Binding struct {
	Kind     keys.ThingKind
	Type     schema.ID
	Instance keys.InstanceID
}

// Row is one tuple of bindings produced or consumed by a stage, keyed by
// the pattern variable it binds.
type Row map[pattern.VarID]Binding

// Clone returns a shallow copy of r so a stage can derive a new row without
// mutating the one it received.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Document is one element of a document-producing query's output stream;
// the document *query* language itself is out of scope, but the output
// channel is still plumbed through.
type Document map[string]any

// Stage is one node of the write pipeline's operator tree. Open starts the
// stage against ctx, returning a pull iterator next and a cancel function
// that stops it early; next returns (row, nil) for each produced row, then
// (nil, Done) once exhausted, or (nil, err) on failure.
type Stage interface {
	Open(ctx context.Context) (next func() (Row, error), cancel func())
}

// SourceStage replays a fixed sequence of already-bound rows. The upstream
// pattern-match phase that produces these bindings from a conjunction and
// its inferred type annotations lives outside this core; SourceStage stands
// in as the operator tree's leaf, letting write stages and the pipeline
// runner be exercised independently of a match engine.
type SourceStage struct {
	Rows []Row
}

// Open implements Stage.
func (s *SourceStage) Open(ctx context.Context) (func() (Row, error), func()) {
	i := 0
	var cancelled bool
	next := func() (Row, error) {
		if cancelled {
			return nil, Done
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(s.Rows) {
			return nil, Done
		}
		row := s.Rows[i]
		i++
		return row, nil
	}
	cancel := func() { cancelled = true }
	return next, cancel
}
