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

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/pkg/obs"
	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/storage/keys"
	"github.com/typedb/typedb-core-go/storage/mvcc"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

const (
	aVar pattern.VarID = iota
	nVar
	relVar
	p1Var
	p2Var
	p3Var
)

func TestSourceStageReplaysRows(t *testing.T) {
	want := []Row{
		{aVar: {Kind: keys.EntityVertex, Type: 1, Instance: 1}},
		{aVar: {Kind: keys.EntityVertex, Type: 1, Instance: 2}},
	}
	s := &SourceStage{Rows: want}
	next, cancel := s.Open(context.Background())
	defer cancel()

	var got []Row
	for {
		row, err := next()
		if err == Done {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, row)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSourceStageHonoursCancel(t *testing.T) {
	s := &SourceStage{Rows: []Row{
		{aVar: {Type: 1, Instance: 1}},
		{aVar: {Type: 1, Instance: 2}},
	}}
	next, cancel := s.Open(context.Background())
	cancel()
	if _, err := next(); err != Done {
		t.Fatalf("next after cancel: got %v, want Done", err)
	}
}

func TestSourceStageHonoursContext(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	stop()
	s := &SourceStage{Rows: []Row{{aVar: {Type: 1, Instance: 1}}}}
	next, cancel := s.Open(ctx)
	defer cancel()
	if _, err := next(); !errors.Is(err, context.Canceled) {
		t.Fatalf("next with cancelled ctx: got %v, want context.Canceled", err)
	}
}

func TestWriteStageInsertEntityAndHas(t *testing.T) {
	upstream := &SourceStage{Rows: []Row{{}}}
	buf := mvcc.NewOperationsBuffer()
	ws := &WriteStage{
		Upstream: upstream,
		Ops: []WriteOp{
			InsertEntity(aVar, schema.ID(10)),
			InsertAttribute(nVar, schema.ID(20)),
			InsertHas{Owner: aVar, Attribute: nVar},
		},
		Buf:   buf,
		Alloc: NewAllocator(),
	}
	rows, err := RunWrite(context.Background(), ws, 10, nil)
	if err != nil {
		t.Fatalf("RunWrite: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	owner := rows[0][aVar]
	attr := rows[0][nVar]
	if owner.Instance != 1 || attr.Instance != 1 {
		t.Fatalf("unexpected instance ids: owner=%+v attr=%+v", owner, attr)
	}
	if buf.Empty() {
		t.Fatal("expected buffered operations, got none")
	}
}

func TestWriteStageInsertRolePlayerSymmetricIndex(t *testing.T) {
	upstream := &SourceStage{Rows: []Row{{
		relVar: {Kind: keys.RelationVertex, Type: 1, Instance: 1},
		p1Var:  {Kind: keys.EntityVertex, Type: 2, Instance: 1},
		p2Var:  {Kind: keys.EntityVertex, Type: 2, Instance: 2},
		p3Var:  {Kind: keys.EntityVertex, Type: 2, Instance: 3},
	}}}
	buf := mvcc.NewOperationsBuffer()
	ws := &WriteStage{
		Upstream: upstream,
		Ops: []WriteOp{
			InsertRolePlayer{Relation: relVar, Player: p1Var, Role: schema.ID(100)},
			InsertRolePlayer{Relation: relVar, Player: p2Var, Role: schema.ID(101)},
			InsertRolePlayer{Relation: relVar, Player: p3Var, Role: schema.ID(101)},
		},
		Buf:   buf,
		Alloc: NewAllocator(),
	}
	if _, err := RunWrite(context.Background(), ws, 10, nil); err != nil {
		t.Fatalf("RunWrite: %v", err)
	}

	wantPairs := [][2]keys.InstanceID{{1, 2}, {2, 1}, {1, 3}, {3, 1}, {2, 3}, {3, 2}}
	for _, pair := range wantPairs {
		key := keys.EncodePlayerIndexKey(2, pair[0], 2, pair[1])
		if !hasOp(buf, keys.PlayerIndex, key) {
			t.Errorf("missing player-index entry for pair %v", pair)
		}
	}
}

func TestRunWriteAbortsOverLimit(t *testing.T) {
	upstream := &SourceStage{Rows: []Row{{}, {}, {}}}
	ws := &WriteStage{
		Upstream: upstream,
		Ops:      []WriteOp{InsertEntity(aVar, schema.ID(1))},
		Buf:      mvcc.NewOperationsBuffer(),
		Alloc:    NewAllocator(),
	}
	_, err := RunWrite(context.Background(), ws, 2, nil)
	if !errors.Is(err, errs.Sentinel(errs.WriteResultsLimitExceeded)) {
		t.Fatalf("got %v, want WriteResultsLimitExceeded", err)
	}
}

func TestRunReadTruncatesWithWarning(t *testing.T) {
	rows := []Row{
		{aVar: {Instance: 1}},
		{aVar: {Instance: 2}},
		{aVar: {Instance: 3}},
	}
	s := &SourceStage{Rows: rows}
	got, warn := RunRead(context.Background(), s, 2, nil)
	if !errors.Is(warn, errs.Sentinel(errs.ReadResultsLimitExceeded)) {
		t.Fatalf("got warning %v, want ReadResultsLimitExceeded", warn)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
}

func TestRunReadNoWarningWithinLimit(t *testing.T) {
	rows := []Row{{aVar: {Instance: 1}}}
	s := &SourceStage{Rows: rows}
	got, warn := RunRead(context.Background(), s, 10, nil)
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
}

func TestRunReadHonoursCancellation(t *testing.T) {
	ctx, stop := context.WithTimeout(context.Background(), time.Millisecond)
	defer stop()
	time.Sleep(2 * time.Millisecond)
	s := &SourceStage{Rows: []Row{{aVar: {Instance: 1}}}}
	_, err := RunRead(ctx, s, 10, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestRunDocumentsProjectsRows(t *testing.T) {
	rows := []Row{
		{aVar: {Type: 5, Instance: 1}},
		{aVar: {Type: 5, Instance: 2}},
	}
	s := &SourceStage{Rows: rows}
	project := func(r Row) Document {
		return Document{"instance": uint64(r[aVar].Instance)}
	}
	docs, err := RunDocuments(context.Background(), s, project, 10, nil)
	if err != nil {
		t.Fatalf("RunDocuments: %v", err)
	}
	want := []Document{{"instance": uint64(1)}, {"instance": uint64(2)}}
	if diff := cmp.Diff(want, docs); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}
}

func TestRunWriteCountsStorageReads(t *testing.T) {
	counters, err := obs.NewCounters()
	if err != nil {
		t.Fatalf("NewCounters: %v", err)
	}
	upstream := &SourceStage{Rows: []Row{{}, {}}}
	ws := &WriteStage{
		Upstream: upstream,
		Ops:      []WriteOp{InsertEntity(aVar, schema.ID(1))},
		Buf:      mvcc.NewOperationsBuffer(),
		Alloc:    NewAllocator(),
	}
	if _, err := RunWrite(context.Background(), ws, 10, counters); err != nil {
		t.Fatalf("RunWrite: %v", err)
	}
}

func hasOp(buf *mvcc.OperationsBuffer, ks mvcc.KeySpace, key []byte) bool {
	snap := buf.Snapshot()
	m, ok := snap[ks]
	if !ok {
		return false
	}
	_, ok = m[string(key)]
	return ok
}
