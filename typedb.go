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

// Package typedb wires the core subsystems into a database lifecycle: a
// write-ahead log, an MVCC snapshot store rebuilt from it on open, a
// statistics view replayed from the commit stream, a schema catalogue,
// and a shared worker pool that per-connection transactions dispatch
// their blocking work to.
package typedb

import (
	"context"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"

	"github.com/typedb/typedb-core-go/inference"
	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/pkg/obs"
	"github.com/typedb/typedb-core-go/pkg/record"
	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/stats"
	"github.com/typedb/typedb-core-go/storage/mvcc"
	"github.com/typedb/typedb-core-go/storage/wal"
	"github.com/typedb/typedb-core-go/txnservice"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// DefaultWorkerPoolSize bounds how many query/commit tasks run at once when
// Config leaves the pool size unset.
const DefaultWorkerPoolSize = 16

// Config configures a Database at open time.
type Config struct {
	// Dir is the database's on-disk root. The WAL lives in Dir/wal.
	Dir string
	// WALSyncInterval overrides the WAL's default fsync cadence.
	WALSyncInterval time.Duration
	// WorkerPoolSize bounds concurrently executing query and commit tasks
	// across every connection. Zero means DefaultWorkerPoolSize.
	WorkerPoolSize int
	// TransactionTimeout is the default per-transaction deadline. Zero
	// means txnservice.DefaultTransactionTimeout.
	TransactionTimeout time.Duration
}

// Database owns one database's subsystems. Open it once per data
// directory; transactions are opened per connection against it.
type Database struct {
	wal       *wal.Store
	store     *mvcc.Store
	stats     *stats.Statistics
	catalogue *schema.Catalogue
	pool      *txnservice.WorkerPool
	counters  *obs.Counters
	timeout   time.Duration
}

// Open loads (or initialises) the database under cfg.Dir: the WAL is
// recovered, every commit record is replayed into a fresh MVCC store, and
// statistics are rebuilt from their last persisted snapshot onward.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	counters, err := obs.NewCounters()
	if err != nil {
		return nil, err
	}
	l, err := wal.Load(filepath.Join(cfg.Dir, "wal"), wal.Options{
		SyncInterval: cfg.WALSyncInterval,
		Counters:     counters,
	})
	if err != nil {
		return nil, err
	}
	store := mvcc.Open(l, record.MIN, counters)

	// stats.Load replays only the commits after the last persisted
	// statistics snapshot; the MVCC store needs everything, so the older
	// prefix is replayed here first.
	snapSeq := record.MIN
	if last, ok, ferr := l.FindLastType(stats.SnapshotRecordType); ferr != nil {
		return nil, ferr
	} else if ok {
		snap, _, derr := stats.Decode(last.Bytes)
		if derr != nil {
			return nil, derr
		}
		snapSeq = snap.Sequence()
	}
	for raw, iterErr := range l.IterTypeFrom(record.MIN.Next(), mvcc.CommitRecordType) {
		if iterErr != nil {
			return nil, errs.Wrap(errs.WALLoad, iterErr, "replay commit prefix")
		}
		if snapSeq.Before(raw.Sequence) {
			break
		}
		if _, _, _, rerr := store.Replay(raw); rerr != nil {
			return nil, rerr
		}
	}

	st, err := stats.Load(ctx, l, store)
	if err != nil {
		return nil, err
	}

	size := cfg.WorkerPoolSize
	if size <= 0 {
		size = DefaultWorkerPoolSize
	}
	db := &Database{
		wal:       l,
		store:     store,
		stats:     st,
		catalogue: schema.New(),
		pool:      txnservice.NewWorkerPool(size),
		counters:  counters,
		timeout:   cfg.TransactionTimeout,
	}
	klog.Infof("typedb: opened %s at sequence %d", cfg.Dir, store.Watermark())
	return db, nil
}

// Catalogue returns the database's schema catalogue.
func (db *Database) Catalogue() *schema.Catalogue { return db.catalogue }

// Statistics returns the live statistics view the planner reads.
func (db *Database) Statistics() *stats.Statistics { return db.stats }

// OpenTransaction starts a per-connection transaction of the given type
// against this database's snapshot store.
func (db *Database) OpenTransaction(txType txnservice.TxnType) *txnservice.Transaction {
	return txnservice.Open(txType, db.store, db.pool, txnservice.Options{
		Timeout:  db.timeout,
		Counters: db.counters,
		OnCommit: db.applyCommit,
	})
}

// InferTypes runs both inference phases over a built conjunction, returning
// the refined inference graph the planner consumes.
func (db *Database) InferTypes(b *pattern.Builder, conj *pattern.Conjunction) (*inference.Graph, error) {
	g, err := inference.NewSeeder(db.catalogue, b).SeedTypes(conj)
	if err != nil {
		return nil, err
	}
	if err := inference.Refine(g); err != nil {
		return nil, err
	}
	return g, nil
}

// applyCommit folds a committed transaction's per-key deltas into the
// statistics view; a schema commit is a boundary, flushing a fresh
// persisted snapshot behind the commit it annotates.
func (db *Database) applyCommit(seq record.SequenceNumber, commitType mvcc.CommitType, deltas []mvcc.KeyDelta) {
	db.stats.Apply(seq, deltas)
	if commitType == mvcc.SchemaCommit {
		if err := db.stats.Persist(context.Background(), db.wal); err != nil {
			klog.Errorf("typedb: persist statistics after schema commit %d: %v", seq, err)
		}
	}
}

// Close joins outstanding worker tasks, then closes the log.
func (db *Database) Close() error {
	db.pool.Wait()
	return db.wal.Close()
}
