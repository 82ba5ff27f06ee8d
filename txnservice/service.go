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

// Package txnservice implements the per-connection transaction service and
// write-query scheduler: it serialises schema queries, allows at
// most one in-flight write query while queueing reads behind it, honours
// cancellation and timeouts, and bounds per-query result size.
//
// A connection's requests (Query/Commit/Rollback/Close) arrive one
// at a time in arrival order — the transport above this package is
// responsible for that serialisation.
// What genuinely runs concurrently here is the dispatched query work
// itself: the query's Source runs on a bounded WorkerPool, not on the
// request-handling goroutine. Query itself can still block: while a pool
// slot frees up, while running reads drain before a write starts, and,
// for a schema query, until running and queued writes have finished.
// A small mutex protects the scheduler's own bookkeeping (the running/
// queued sets) against the worker-pool completion callbacks racing a new
// request.
package txnservice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/typedb/typedb-core-go/pkg/obs"
	"github.com/typedb/typedb-core-go/pkg/record"
	"github.com/typedb/typedb-core-go/storage/mvcc"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// TxnType is the kind of transaction a connection opened's
// OpenTransaction request.
type TxnType int

const (
	ReadTxn TxnType = iota + 1
	WriteTxn
	SchemaTxn
)

// State is the per-connection scheduler's externally observable state
// . RunningWrite and RunningReads are mutually exclusive: a write
// about to start first interrupts and drains any currently-running reads
// (cause WriteQueryExecution), so the two never overlap.
type State int

const (
	Idle State = iota
	RunningReads
	RunningWrite
)

// QueryKind is the kind of a submitted query, gating which transaction
// types may legally run it.
type QueryKind int

const (
	ReadQuery QueryKind = iota + 1
	WriteQuery
	SchemaQuery
)

// QueryType labels an Answer; it mirrors QueryKind but describes a
// response rather than a scheduling class.
type QueryType int

const (
	AnswerRead QueryType = iota + 1
	AnswerWrite
	AnswerSchema
)

func (k QueryKind) answerType() QueryType {
	switch k {
	case WriteQuery:
		return AnswerWrite
	case SchemaQuery:
		return AnswerSchema
	default:
		return AnswerRead
	}
}

// AnswerKind distinguishes the three shapes an Answer may take.
type AnswerKind int

const (
	AnswerOk AnswerKind = iota + 1
	AnswerRows
	AnswerDocuments
)

// Answer is the payload of a successful Query response.
type Answer struct {
	Kind      AnswerKind
	QueryType QueryType
	Rows      []any
	Documents []any
	// Warning is non-nil exactly when a read/document query was truncated
	// by AnswerCountLimit; its presence marks the response partial
	// (HTTP 206 at the transport boundary).
	Warning error
}

// QueryOptions configures one Query request.
type QueryOptions struct {
	Prefetch             bool
	IncludeInstanceTypes bool
	// AnswerCountLimit bounds the query's result size. Zero or
	// negative means unbounded.
	AnswerCountLimit int
}

// Source runs a compiled query's logic against ctx, honouring limit as its
// AnswerCountLimit. The query parser, type inference, and physical
// execution operators that produce a Source are out of scope for this
// package: Source is the seam the rest of the core plugs a compiled
// plan into.
type Source func(ctx context.Context, limit int) (*Answer, error)

// QueryRequest is one Query input.
type QueryRequest struct {
	Kind    QueryKind
	Options QueryOptions
	Source  Source
}

// ResponseKind distinguishes the three response shapes.
type ResponseKind int

const (
	RespOk ResponseKind = iota + 1
	RespErr
	RespQuery
)

// Response is returned for every request.
type Response struct {
	Kind   ResponseKind
	Err    error
	Answer *Answer
}

func okResponse() Response           { return Response{Kind: RespOk} }
func errResponse(err error) Response { return Response{Kind: RespErr, Err: err} }
func queryResponse(k QueryKind, a *Answer) Response {
	if a != nil {
		a.QueryType = k.answerType()
	}
	return Response{Kind: RespQuery, Answer: a}
}

// Options configures a Transaction at open time.
type Options struct {
	// Timeout bounds the transaction's lifetime; zero means
	// DefaultTransactionTimeout.
	Timeout time.Duration
	// OnCommit, when non-nil, is invoked after a successful commit with the
	// assigned sequence number and per-key statistics deltas —
	// the seam the statistics subsystem hooks to stay current without this
	// package depending on the stats package directly.
	OnCommit func(seq record.SequenceNumber, commitType mvcc.CommitType, deltas []mvcc.KeyDelta)
	Counters *obs.Counters
}

// DefaultTransactionTimeout is the default transaction lifetime,
// generous enough for bulk imports.
const DefaultTransactionTimeout = 24 * time.Hour

// store is the minimal surface Transaction needs from the MVCC snapshot
// store (storage/mvcc.Store), so tests can substitute a fake.
type store interface {
	OpenSnapshot() record.SequenceNumber
	Commit(ctx context.Context, open record.SequenceNumber, commitType mvcc.CommitType, buf *mvcc.OperationsBuffer) (record.SequenceNumber, []mvcc.KeyDelta, error)
}

// inflight tracks one currently-executing query.
type inflight struct {
	id      uint64
	kind    QueryKind
	cancel  context.CancelFunc
	respond func(Response)
	done    chan struct{}

	mu        sync.Mutex
	cause     errs.InterruptCause
	causeSet  bool
	responded bool
}

func (f *inflight) interrupt(cause errs.InterruptCause) {
	f.mu.Lock()
	if !f.causeSet {
		f.cause, f.causeSet = cause, true
	}
	f.mu.Unlock()
	f.cancel()
}

func (f *inflight) recordedCause() (errs.InterruptCause, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause, f.causeSet
}

// doRespond delivers r exactly once: a query whose deadline fires while its
// goroutine is still unwinding must not also deliver the goroutine's own
// (now-stale) completion response once it eventually arrives.
func (f *inflight) doRespond(r Response) {
	f.mu.Lock()
	already := f.responded
	f.responded = true
	f.mu.Unlock()
	if !already {
		f.respond(r)
	}
}

// queued is one query waiting behind the current writer.
type queued struct {
	id      uint64
	kind    QueryKind
	req     QueryRequest
	respond func(Response)
}

// Transaction is a per-connection transaction-service state machine
// . Create one with Open; it runs until Commit, Rollback, Close, or
// its deadline fires.
type Transaction struct {
	id       uuid.UUID
	txType   TxnType
	store    store
	pool     *WorkerPool
	onCommit func(record.SequenceNumber, mvcc.CommitType, []mvcc.KeyDelta)
	counters *obs.Counters

	openSeq record.SequenceNumber

	mu           sync.Mutex
	buf          *mvcc.OperationsBuffer
	nextID       uint64
	queue        []*queued
	runningWrite *inflight
	runningReads map[uint64]*inflight
	done         bool
	// draining is set while Commit/Rollback/Close or a schema query owns
	// the queue; the write-completion dispatcher must not start queued
	// work while it is set.
	draining bool

	timer *time.Timer
}

// Open starts a new transaction of txType against st and returns it.
func Open(txType TxnType, st store, pool *WorkerPool, opts Options) *Transaction {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}
	t := &Transaction{
		id:           uuid.New(),
		txType:       txType,
		store:        st,
		pool:         pool,
		onCommit:     opts.OnCommit,
		counters:     opts.Counters,
		openSeq:      st.OpenSnapshot(),
		runningReads: make(map[uint64]*inflight),
	}
	if txType != ReadTxn {
		t.buf = mvcc.NewOperationsBuffer()
	}
	t.timer = time.AfterFunc(timeout, t.fireTimeout)
	klog.V(1).Infof("txn %s: opened at snapshot %d", t.id, t.openSeq)
	return t
}

// ID returns the transaction's identifier, used to correlate log lines
// across its lifecycle.
func (t *Transaction) ID() uuid.UUID { return t.id }

// State reports the scheduler's current externally observable state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Transaction) stateLocked() State {
	if t.runningWrite != nil {
		return RunningWrite
	}
	if len(t.runningReads) > 0 {
		return RunningReads
	}
	return Idle
}

// OpenSequence returns the transaction's read snapshot sequence number.
func (t *Transaction) OpenSequence() record.SequenceNumber { return t.openSeq }

// Buffer returns the operations buffer write stages populate on this
// transaction's behalf. Nil for read transactions.
func (t *Transaction) Buffer() *mvcc.OperationsBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf
}

func (t *Transaction) nextQueryID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

// Query submits req for scheduling and returns a channel that
// receives exactly one Response once the query completes (or is rejected
// outright for an illegal state transition).
func (t *Transaction) Query(req QueryRequest) <-chan Response {
	ch := make(chan Response, 1)
	respond := func(r Response) { ch <- r }

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		respond(errResponse(errs.New(errs.TransactionTimeout, "transaction closed")))
		return ch
	}
	t.mu.Unlock()

	switch req.Kind {
	case SchemaQuery:
		t.handleSchemaQuery(req, respond)
	case WriteQuery:
		if t.txType != WriteTxn && t.txType != SchemaTxn {
			respond(errResponse(errs.New(errs.WriteQueryRequiresSchemaOrWriteTransaction, "write query requires a write or schema transaction")))
			return ch
		}
		t.submitWrite(req, respond)
	default:
		t.submitRead(req, respond)
	}
	return ch
}

// submitWrite implements the write-query queueing rule: queue if
// another write is running or anything is already queued; otherwise run
// it now.
func (t *Transaction) submitWrite(req QueryRequest, respond func(Response)) {
	id := t.nextQueryID()

	t.mu.Lock()
	if t.draining || t.runningWrite != nil || len(t.queue) > 0 {
		t.enqueueLocked(id, req, respond)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.startWrite(id, req, respond)
}

// submitRead implements the read-query queueing rule: run immediately
// iff the queue is empty and no write is running; otherwise queue behind
// the current writer.
func (t *Transaction) submitRead(req QueryRequest, respond func(Response)) {
	id := t.nextQueryID()

	t.mu.Lock()
	if t.draining || len(t.queue) > 0 || t.runningWrite != nil {
		t.enqueueLocked(id, req, respond)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.startRead(id, req, respond)
}

func (t *Transaction) enqueueLocked(id uint64, req QueryRequest, respond func(Response)) {
	t.queue = append(t.queue, &queued{id: id, kind: req.Kind, req: req, respond: respond})
	if t.counters != nil {
		t.counters.SchedulerQueueDepth.Add(context.Background(), 1)
	}
}

// startWrite begins running req as the transaction's one in-flight write.
// Since RunningReads and RunningWrite never overlap, any reads currently
// in flight are first interrupted (cause WriteQueryExecution) and
// awaited before the write actually starts.
func (t *Transaction) startWrite(id uint64, req QueryRequest, respond func(Response)) {
	t.interruptAndAwaitReads(errs.CauseWriteQueryExecution)

	ctx, cancel := context.WithCancel(context.Background())
	inf := &inflight{id: id, kind: WriteQuery, cancel: cancel, respond: respond, done: make(chan struct{})}

	t.mu.Lock()
	t.runningWrite = inf
	t.mu.Unlock()

	limit := req.Options.AnswerCountLimit
	t.pool.Go(func() {
		answer, err := req.Source(ctx, limit)
		t.writeCompleted(inf, answer, err)
	})
}

func (t *Transaction) writeCompleted(inf *inflight, answer *Answer, err error) {
	t.mu.Lock()
	t.runningWrite = nil
	t.mu.Unlock()

	t.respondCompleted(inf, answer, err)
	close(inf.done)
	// Dispatch from a fresh goroutine: pool.Go blocks while the pool is
	// full, and the goroutine running writeCompleted is itself a pool task.
	go t.drainQueueAfterWrite()
}

// drainQueueAfterWrite implements the completion rule: dequeue
// head-first; reads run immediately up to the next write; encountering a
// write starts it and stops dequeuing. While Commit/Rollback/Close or a
// schema query is draining, the queue belongs to that sequence and this
// dispatcher backs off entirely.
func (t *Transaction) drainQueueAfterWrite() {
	for {
		t.mu.Lock()
		if t.draining || len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		head := t.queue[0]
		t.queue = t.queue[1:]
		if t.counters != nil {
			t.counters.SchedulerQueueDepth.Add(context.Background(), -1)
		}
		t.mu.Unlock()

		if head.kind == WriteQuery || head.kind == SchemaQuery {
			t.startWrite(head.id, head.req, head.respond)
			return
		}
		t.startRead(head.id, head.req, head.respond)
	}
}

func (t *Transaction) startRead(id uint64, req QueryRequest, respond func(Response)) {
	ctx, cancel := context.WithCancel(context.Background())
	inf := &inflight{id: id, kind: ReadQuery, cancel: cancel, respond: respond, done: make(chan struct{})}

	t.mu.Lock()
	t.runningReads[id] = inf
	t.mu.Unlock()

	limit := req.Options.AnswerCountLimit
	t.pool.Go(func() {
		answer, err := req.Source(ctx, limit)
		t.readCompleted(inf, answer, err)
	})
}

func (t *Transaction) readCompleted(inf *inflight, answer *Answer, err error) {
	t.mu.Lock()
	delete(t.runningReads, inf.id)
	t.mu.Unlock()

	t.respondCompleted(inf, answer, err)
	close(inf.done)
}

// respondCompleted translates a finished query's (answer, err) pair into a
// Response, substituting a QueryInterruptedError carrying the recorded
// cause when the query was cancelled rather than naturally erroring.
func (t *Transaction) respondCompleted(inf *inflight, answer *Answer, err error) {
	if err != nil {
		if cause, ok := inf.recordedCause(); ok && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			inf.doRespond(errResponse(&errs.QueryInterruptedError{Cause: cause}))
			return
		}
		inf.doRespond(errResponse(err))
		return
	}
	inf.doRespond(queryResponse(inf.kind, answer))
}

// interruptAndAwaitReads interrupts every currently-running read with
// cause and blocks until each has finished. It takes the mutex only for
// the snapshot and releases it before blocking, so worker completions
// can still make progress while this call waits.
func (t *Transaction) interruptAndAwaitReads(cause errs.InterruptCause) {
	t.mu.Lock()
	reads := make([]*inflight, 0, len(t.runningReads))
	for _, inf := range t.runningReads {
		reads = append(reads, inf)
	}
	t.mu.Unlock()

	for _, inf := range reads {
		inf.interrupt(cause)
	}
	for _, inf := range reads {
		<-inf.done
	}
}

func (t *Transaction) awaitRunningWrite() {
	t.mu.Lock()
	w := t.runningWrite
	t.mu.Unlock()
	if w != nil {
		<-w.done
	}
}

// beginDrain claims the queue for a Commit/Rollback/Close or schema-query
// sequence, parking the write-completion dispatcher until endDrain (or
// markDone) releases it.
func (t *Transaction) beginDrain() {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()
}

func (t *Transaction) endDrain() {
	t.mu.Lock()
	t.draining = false
	t.mu.Unlock()
}

// cancelQueuedReads removes every queued read and responds to each with
// QueryInterrupted{cause}, preserving the relative order of any queued
// writes left behind.
func (t *Transaction) cancelQueuedReads(cause errs.InterruptCause) {
	t.mu.Lock()
	kept := t.queue[:0:0]
	var toCancel []*queued
	for _, q := range t.queue {
		if q.kind == ReadQuery {
			toCancel = append(toCancel, q)
			if t.counters != nil {
				t.counters.SchedulerQueueDepth.Add(context.Background(), -1)
			}
			continue
		}
		kept = append(kept, q)
	}
	t.queue = kept
	t.mu.Unlock()

	for _, q := range toCancel {
		q.respond(errResponse(&errs.QueryInterruptedError{Cause: cause}))
	}
}

// cancelQueuedWrites removes every remaining queued item (by this point,
// after cancelQueuedReads, only writes/schema queries) and responds to each
// with QueryInterrupted{cause}. Used by Rollback and Close, which must not
// run a queued write's side effects.
func (t *Transaction) cancelQueuedWrites(cause errs.InterruptCause) {
	t.mu.Lock()
	pending := t.queue
	t.queue = nil
	if t.counters != nil {
		t.counters.SchedulerQueueDepth.Add(context.Background(), int64(-len(pending)))
	}
	t.mu.Unlock()

	for _, q := range pending {
		q.respond(errResponse(&errs.QueryInterruptedError{Cause: cause}))
	}
}

// runQueuedWritesToCompletion executes every queued write, in order,
// synchronously, until the queue is empty; used by Commit (awaits their
// results) and by the schema-query sequence (drains and completes
// them before the schema query runs). Callers must have already
// cancelled any queued reads so only writes remain.
func (t *Transaction) runQueuedWritesToCompletion() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		head := t.queue[0]
		t.queue = t.queue[1:]
		if t.counters != nil {
			t.counters.SchedulerQueueDepth.Add(context.Background(), -1)
		}
		t.mu.Unlock()

		done := make(chan struct{})
		t.pool.Go(func() {
			answer, err := head.req.Source(context.Background(), head.req.Options.AnswerCountLimit)
			if err != nil {
				head.respond(errResponse(err))
			} else {
				head.respond(queryResponse(head.kind, answer))
			}
			close(done)
		})
		<-done
	}
}

// handleSchemaQuery implements the schema-query sequence: a schema
// query is only legal on a schema transaction; before it runs, every
// running read is interrupted, every queued read is cancelled, every
// queued write is drained and completed, then the schema query itself runs
// exclusively.
func (t *Transaction) handleSchemaQuery(req QueryRequest, respond func(Response)) {
	if t.txType != SchemaTxn {
		respond(errResponse(errs.New(errs.SchemaQueryRequiresSchemaTransaction, "schema query requires a schema transaction")))
		return
	}
	t.beginDrain()
	t.awaitRunningWrite()
	t.interruptAndAwaitReads(errs.CauseSchemaQueryExecution)
	t.cancelQueuedReads(errs.CauseSchemaQueryExecution)
	t.runQueuedWritesToCompletion()
	t.endDrain()

	id := t.nextQueryID()
	t.startWrite(id, req, respond)
}

// Commit implements the commit sequence. A read transaction cannot
// commit.
func (t *Transaction) Commit(ctx context.Context) Response {
	if t.txType == ReadTxn {
		return errResponse(errs.New(errs.CannotCommitReadTransaction, "read transactions cannot commit"))
	}

	t.beginDrain()
	t.awaitRunningWrite()
	t.interruptAndAwaitReads(errs.CauseTransactionCommitted)
	t.cancelQueuedReads(errs.CauseTransactionCommitted)
	t.runQueuedWritesToCompletion()

	t.mu.Lock()
	buf := t.buf
	t.mu.Unlock()

	seq, deltas, err := t.store.Commit(ctx, t.openSeq, t.commitType(), buf)
	if err != nil {
		// The transaction stays open so the client can still rollback.
		t.endDrain()
		return errResponse(err)
	}
	if t.onCommit != nil {
		t.onCommit(seq, t.commitType(), deltas)
	}
	klog.V(1).Infof("txn %s: committed at sequence %d", t.id, seq)
	t.markDone()
	return okResponse()
}

func (t *Transaction) commitType() mvcc.CommitType {
	if t.txType == SchemaTxn {
		return mvcc.SchemaCommit
	}
	return mvcc.DataCommit
}

// Rollback implements the rollback sequence: interrupt running reads,
// cancel queued reads, drain the running write, cancel queued writes, then
// discard the buffered operations. A read transaction cannot rollback.
func (t *Transaction) Rollback() Response {
	if t.txType == ReadTxn {
		return errResponse(errs.New(errs.CannotRollbackReadTransaction, "read transactions cannot rollback"))
	}

	t.beginDrain()
	t.interruptAndAwaitReads(errs.CauseTransactionRolledback)
	t.cancelQueuedReads(errs.CauseTransactionRolledback)
	t.awaitRunningWrite()
	t.cancelQueuedWrites(errs.CauseTransactionRolledback)

	t.mu.Lock()
	t.buf = mvcc.NewOperationsBuffer()
	t.draining = false
	t.mu.Unlock()
	return okResponse()
}

// Close implements the close sequence: the same drain-and-cancel
// sequence as Rollback, but the transaction is discarded entirely.
func (t *Transaction) Close() Response {
	t.beginDrain()
	t.interruptAndAwaitReads(errs.CauseTransactionClosed)
	t.cancelQueuedReads(errs.CauseTransactionClosed)
	t.awaitRunningWrite()
	t.cancelQueuedWrites(errs.CauseTransactionClosed)
	t.markDone()
	return okResponse()
}

func (t *Transaction) markDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.done {
		t.done = true
		t.timer.Stop()
	}
}

// fireTimeout implements TransactionTimeout: every outstanding
// responder (running and queued, reads and writes) receives exactly one
// TransactionTimeout error, and the transaction closes.
func (t *Transaction) fireTimeout() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	w := t.runningWrite
	reads := make([]*inflight, 0, len(t.runningReads))
	for _, inf := range t.runningReads {
		reads = append(reads, inf)
	}
	pending := t.queue
	t.queue = nil
	t.mu.Unlock()

	klog.Warningf("txn %s: deadline exceeded, closing", t.id)
	timeoutErr := errs.New(errs.TransactionTimeout, "transaction exceeded its deadline")
	if w != nil {
		w.cancel()
		w.doRespond(errResponse(timeoutErr))
	}
	for _, inf := range reads {
		inf.cancel()
		inf.doRespond(errResponse(timeoutErr))
	}
	for _, q := range pending {
		q.respond(errResponse(timeoutErr))
	}
}
