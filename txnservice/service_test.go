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

package txnservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/typedb/typedb-core-go/pkg/record"
	"github.com/typedb/typedb-core-go/storage/mvcc"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// fakeStore records commits so tests can assert on what reached the
// snapshot store without standing up a WAL.
type fakeStore struct {
	mu      sync.Mutex
	open    record.SequenceNumber
	next    record.SequenceNumber
	commits []mvcc.CommitType
	err     error
}

func newFakeStore() *fakeStore { return &fakeStore{open: 7, next: 8} }

func (f *fakeStore) OpenSnapshot() record.SequenceNumber { return f.open }

func (f *fakeStore) Commit(_ context.Context, _ record.SequenceNumber, ct mvcc.CommitType, _ *mvcc.OperationsBuffer) (record.SequenceNumber, []mvcc.KeyDelta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, nil, f.err
	}
	seq := f.next
	f.next = f.next.Next()
	f.commits = append(f.commits, ct)
	return seq, nil, nil
}

func (f *fakeStore) committed() []mvcc.CommitType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mvcc.CommitType(nil), f.commits...)
}

// orderLog records the order in which query sources actually ran.
type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (l *orderLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// gatedSource blocks until release is closed (or the query is cancelled),
// then records its name and succeeds.
func gatedSource(release <-chan struct{}, log *orderLog, name string) Source {
	return func(ctx context.Context, _ int) (*Answer, error) {
		select {
		case <-release:
			log.add(name)
			return &Answer{Kind: AnswerOk}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// instantSource records its name and succeeds immediately.
func instantSource(log *orderLog, name string) Source {
	return func(context.Context, int) (*Answer, error) {
		log.add(name)
		return &Answer{Kind: AnswerOk}, nil
	}
}

// hangingSource only ever finishes by cancellation.
func hangingSource() Source {
	return func(ctx context.Context, _ int) (*Answer, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func waitForState(t *testing.T, tx *Transaction, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tx.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transaction never reached state %v (currently %v)", want, tx.State())
}

func wantInterrupted(t *testing.T, name string, r Response, cause errs.InterruptCause) {
	t.Helper()
	if r.Kind != RespErr {
		t.Fatalf("%s: got %+v, want an error response", name, r)
	}
	if !errors.Is(r.Err, &errs.QueryInterruptedError{Cause: cause}) {
		t.Errorf("%s: err = %v, want QueryInterrupted{%s}", name, r.Err, cause)
	}
}

// TestCommitDrainsWritesAndCancelsReads enqueues write/read/write/read
// behind a running write, then commits while the first write is still in
// flight: both writes must complete in order, both reads must be cancelled
// with the commit cause, and the commit itself must succeed exactly once.
func TestCommitDrainsWritesAndCancelsReads(t *testing.T) {
	st := newFakeStore()
	pool := NewWorkerPool(4)
	defer pool.Wait()
	tx := Open(WriteTxn, st, pool, Options{})

	var log orderLog
	release := make(chan struct{})
	q1 := tx.Query(QueryRequest{Kind: WriteQuery, Source: gatedSource(release, &log, "q1")})
	waitForState(t, tx, RunningWrite)

	q2 := tx.Query(QueryRequest{Kind: ReadQuery, Source: hangingSource()})
	q3 := tx.Query(QueryRequest{Kind: WriteQuery, Source: instantSource(&log, "q3")})
	q4 := tx.Query(QueryRequest{Kind: ReadQuery, Source: hangingSource()})

	commitCh := make(chan Response, 1)
	go func() { commitCh <- tx.Commit(context.Background()) }()
	close(release)

	if r := <-q1; r.Kind != RespQuery {
		t.Fatalf("q1: got %+v, want a query answer", r)
	}
	if r := <-q3; r.Kind != RespQuery {
		t.Fatalf("q3: got %+v, want a query answer", r)
	}
	wantInterrupted(t, "q2", <-q2, errs.CauseTransactionCommitted)
	wantInterrupted(t, "q4", <-q4, errs.CauseTransactionCommitted)

	if r := <-commitCh; r.Kind != RespOk {
		t.Fatalf("commit: got %+v, want ok", r)
	}
	if diff := cmp.Diff([]mvcc.CommitType{mvcc.DataCommit}, st.committed()); diff != "" {
		t.Errorf("commits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"q1", "q3"}, log.snapshot()); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
}

// TestReadWaitsForRunningWrite checks that a read issued while a write runs
// is not observable until the write completes.
func TestReadWaitsForRunningWrite(t *testing.T) {
	st := newFakeStore()
	pool := NewWorkerPool(4)
	defer pool.Wait()
	tx := Open(WriteTxn, st, pool, Options{})
	defer tx.Close()

	var log orderLog
	release := make(chan struct{})
	w := tx.Query(QueryRequest{Kind: WriteQuery, Source: gatedSource(release, &log, "w")})
	waitForState(t, tx, RunningWrite)

	r := tx.Query(QueryRequest{Kind: ReadQuery, Source: instantSource(&log, "r")})
	select {
	case resp := <-r:
		t.Fatalf("read completed while the write was still running: %+v", resp)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if resp := <-w; resp.Kind != RespQuery {
		t.Fatalf("write: got %+v, want a query answer", resp)
	}
	if resp := <-r; resp.Kind != RespQuery {
		t.Fatalf("read: got %+v, want a query answer", resp)
	}
	if diff := cmp.Diff([]string{"w", "r"}, log.snapshot()); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
}

// TestSchemaQueryDrainsQueue exercises the schema-query sequence on a
// schema transaction: queued writes complete before the schema query,
// queued reads are cancelled with the schema cause.
func TestSchemaQueryDrainsQueue(t *testing.T) {
	st := newFakeStore()
	pool := NewWorkerPool(4)
	defer pool.Wait()
	tx := Open(SchemaTxn, st, pool, Options{})
	defer tx.Close()

	var log orderLog
	release := make(chan struct{})
	w := tx.Query(QueryRequest{Kind: WriteQuery, Source: gatedSource(release, &log, "w")})
	waitForState(t, tx, RunningWrite)

	qw := tx.Query(QueryRequest{Kind: WriteQuery, Source: instantSource(&log, "qw")})
	qr := tx.Query(QueryRequest{Kind: ReadQuery, Source: hangingSource()})

	schemaCh := make(chan Response, 1)
	go func() {
		schemaCh <- <-tx.Query(QueryRequest{Kind: SchemaQuery, Source: instantSource(&log, "schema")})
	}()
	close(release)

	if r := <-w; r.Kind != RespQuery {
		t.Fatalf("w: got %+v, want a query answer", r)
	}
	if r := <-qw; r.Kind != RespQuery {
		t.Fatalf("qw: got %+v, want a query answer", r)
	}
	wantInterrupted(t, "qr", <-qr, errs.CauseSchemaQueryExecution)
	if r := <-schemaCh; r.Kind != RespQuery {
		t.Fatalf("schema: got %+v, want a query answer", r)
	}

	order := log.snapshot()
	if order[len(order)-1] != "schema" {
		t.Errorf("schema query did not run last: %v", order)
	}
}

// TestRollbackCancelsQueuedWritesAndResetsBuffer checks that a rollback
// cancels queued writes with the rollback cause and replaces the
// operations buffer, leaving the transaction usable.
func TestRollbackCancelsQueuedWritesAndResetsBuffer(t *testing.T) {
	st := newFakeStore()
	pool := NewWorkerPool(4)
	defer pool.Wait()
	tx := Open(WriteTxn, st, pool, Options{})
	defer tx.Close()

	tx.Buffer().InsertOp(1, []byte("k"), []byte("v"))

	var log orderLog
	release := make(chan struct{})
	w := tx.Query(QueryRequest{Kind: WriteQuery, Source: gatedSource(release, &log, "w")})
	waitForState(t, tx, RunningWrite)
	qw := tx.Query(QueryRequest{Kind: WriteQuery, Source: instantSource(&log, "qw")})

	rollbackCh := make(chan Response, 1)
	go func() { rollbackCh <- tx.Rollback() }()
	// Let the rollback claim the queue before the running write finishes,
	// so the queued write is cancelled rather than dispatched.
	time.Sleep(20 * time.Millisecond)
	close(release)

	if r := <-w; r.Kind != RespQuery {
		t.Fatalf("w: got %+v, want a query answer", r)
	}
	wantInterrupted(t, "qw", <-qw, errs.CauseTransactionRolledback)
	if r := <-rollbackCh; r.Kind != RespOk {
		t.Fatalf("rollback: got %+v, want ok", r)
	}
	if !tx.Buffer().Empty() {
		t.Error("buffer still holds operations after rollback")
	}

	// The transaction stays open: a fresh write must still run.
	if r := <-tx.Query(QueryRequest{Kind: WriteQuery, Source: instantSource(&log, "after")}); r.Kind != RespQuery {
		t.Fatalf("post-rollback write: got %+v, want a query answer", r)
	}
}

// TestTransactionTimeout checks that every outstanding responder (running
// and queued) receives exactly one error after the deadline fires, and
// that later queries are rejected.
func TestTransactionTimeout(t *testing.T) {
	st := newFakeStore()
	pool := NewWorkerPool(4)
	defer pool.Wait()
	tx := Open(WriteTxn, st, pool, Options{Timeout: 30 * time.Millisecond})

	w := tx.Query(QueryRequest{Kind: WriteQuery, Source: hangingSource()})
	waitForState(t, tx, RunningWrite)
	queued := tx.Query(QueryRequest{Kind: ReadQuery, Source: hangingSource()})

	for name, ch := range map[string]<-chan Response{"write": w, "queued read": queued} {
		r := <-ch
		if r.Kind != RespErr {
			t.Fatalf("%s: got %+v, want an error response", name, r)
		}
		if !errors.Is(r.Err, errs.Sentinel(errs.TransactionTimeout)) {
			t.Errorf("%s: err = %v, want TransactionTimeout", name, r.Err)
		}
	}

	if r := <-tx.Query(QueryRequest{Kind: ReadQuery, Source: hangingSource()}); r.Kind != RespErr {
		t.Fatalf("post-timeout query: got %+v, want an error response", r)
	}
}

// TestIllegalStateTransitions table-tests the per-transaction-type rules.
func TestIllegalStateTransitions(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Wait()

	for _, tc := range []struct {
		name string
		run  func(t *testing.T) Response
		want errs.Kind
	}{
		{
			name: "write query on read transaction",
			run: func(t *testing.T) Response {
				tx := Open(ReadTxn, newFakeStore(), pool, Options{})
				defer tx.Close()
				return <-tx.Query(QueryRequest{Kind: WriteQuery, Source: hangingSource()})
			},
			want: errs.WriteQueryRequiresSchemaOrWriteTransaction,
		},
		{
			name: "schema query on write transaction",
			run: func(t *testing.T) Response {
				tx := Open(WriteTxn, newFakeStore(), pool, Options{})
				defer tx.Close()
				return <-tx.Query(QueryRequest{Kind: SchemaQuery, Source: hangingSource()})
			},
			want: errs.SchemaQueryRequiresSchemaTransaction,
		},
		{
			name: "commit on read transaction",
			run: func(t *testing.T) Response {
				tx := Open(ReadTxn, newFakeStore(), pool, Options{})
				defer tx.Close()
				return tx.Commit(context.Background())
			},
			want: errs.CannotCommitReadTransaction,
		},
		{
			name: "rollback on read transaction",
			run: func(t *testing.T) Response {
				tx := Open(ReadTxn, newFakeStore(), pool, Options{})
				defer tx.Close()
				return tx.Rollback()
			},
			want: errs.CannotRollbackReadTransaction,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.run(t)
			if r.Kind != RespErr {
				t.Fatalf("got %+v, want an error response", r)
			}
			if !errors.Is(r.Err, errs.Sentinel(tc.want)) {
				t.Errorf("err = %v, want kind %s", r.Err, tc.want)
			}
		})
	}
}

// TestSchemaCommitTypeAndOnCommit checks that a schema transaction commits
// with the schema commit type and that the OnCommit hook observes the
// assigned sequence number.
func TestSchemaCommitTypeAndOnCommit(t *testing.T) {
	st := newFakeStore()
	pool := NewWorkerPool(2)
	defer pool.Wait()

	var gotSeq record.SequenceNumber
	var gotType mvcc.CommitType
	tx := Open(SchemaTxn, st, pool, Options{
		OnCommit: func(seq record.SequenceNumber, ct mvcc.CommitType, _ []mvcc.KeyDelta) {
			gotSeq, gotType = seq, ct
		},
	})

	if r := tx.Commit(context.Background()); r.Kind != RespOk {
		t.Fatalf("commit: got %+v, want ok", r)
	}
	if gotSeq != 8 {
		t.Errorf("OnCommit sequence = %d, want 8", gotSeq)
	}
	if gotType != mvcc.SchemaCommit {
		t.Errorf("OnCommit type = %d, want SchemaCommit", gotType)
	}
	if diff := cmp.Diff([]mvcc.CommitType{mvcc.SchemaCommit}, st.committed()); diff != "" {
		t.Errorf("commits mismatch (-want +got):\n%s", diff)
	}
}
