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

package typedb

import (
	"context"
	"testing"

	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/storage/keys"
	"github.com/typedb/typedb-core-go/txnservice"
)

// TestLifecycleCommitReplayPersist drives the whole stack end to end: a
// data commit lands in the WAL and the statistics view, survives a close
// and reopen via commit replay, and a schema commit pins a persisted
// statistics snapshot that the next open loads from.
func TestLifecycleCommitReplayPersist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	person, err := db.Catalogue().DefineType(schema.Label{Name: "person"}, schema.EntityType)
	if err != nil {
		t.Fatalf("DefineType: %v", err)
	}

	tx := db.OpenTransaction(txnservice.WriteTxn)
	buf := tx.Buffer()
	buf.InsertOp(keys.Thing, keys.EncodeThingKey(keys.EntityVertex, person, 1), nil)
	buf.InsertOp(keys.Thing, keys.EncodeThingKey(keys.EntityVertex, person, 2), nil)
	if r := tx.Commit(ctx); r.Kind != txnservice.RespOk {
		t.Fatalf("commit: %+v", r)
	}
	if got := db.Statistics().EntityCount(person); got != 2 {
		t.Fatalf("entity count after commit = %d, want 2", got)
	}

	reader := db.OpenTransaction(txnservice.ReadTxn)
	if got := reader.OpenSequence(); got != 1 {
		t.Fatalf("read snapshot = %d, want 1", got)
	}
	reader.Close()

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the commit must be replayed into both the MVCC store and the
	// statistics view.
	db2, err := Open(ctx, Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := db2.Statistics().EntityCount(person); got != 2 {
		t.Fatalf("entity count after replay = %d, want 2", got)
	}
	reader = db2.OpenTransaction(txnservice.ReadTxn)
	if got := reader.OpenSequence(); got != 1 {
		t.Fatalf("read snapshot after replay = %d, want 1", got)
	}
	reader.Close()

	// A schema commit acts as a statistics boundary, persisting a snapshot
	// behind the commit it annotates.
	schemaTx := db2.OpenTransaction(txnservice.SchemaTxn)
	schemaTx.Buffer().InsertOp(keys.SchemaType, keys.EncodeSchemaTypeKey(schema.EntityType, person), nil)
	if r := schemaTx.Commit(ctx); r.Kind != txnservice.RespOk {
		t.Fatalf("schema commit: %+v", r)
	}
	if err := db2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The next open must load the persisted snapshot and land on the same
	// counts and watermark.
	db3, err := Open(ctx, Config{Dir: dir})
	if err != nil {
		t.Fatalf("third open: %v", err)
	}
	defer db3.Close()
	if got := db3.Statistics().EntityCount(person); got != 2 {
		t.Fatalf("entity count after snapshot load = %d, want 2", got)
	}
	reader = db3.OpenTransaction(txnservice.ReadTxn)
	if got := reader.OpenSequence(); got != 2 {
		t.Fatalf("read snapshot after schema commit = %d, want 2", got)
	}
	reader.Close()
}
