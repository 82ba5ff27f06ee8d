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

package mvcc

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
	"github.com/typedb/typedb-core-go/pkg/obs"
	"github.com/typedb/typedb-core-go/pkg/record"
)

// CommitRecordType is the WAL record type tag under which commit records
// are written.
const CommitRecordType record.Type = 1

// CommitType distinguishes a data commit from a schema commit: schema
// commits act as a boundary for the statistics subsystem, which flushes
// its accumulated delta and persists a snapshot at each one.
type CommitType uint8

const (
	DataCommit CommitType = iota + 1
	SchemaCommit
)

// log is the minimal surface the store needs from a log store, so tests can
// substitute a fake without dragging in storage/wal.
type log interface {
	SequencedWrite(ctx context.Context, typ record.Type, payload []byte) (record.SequenceNumber, error)
	RequestSync(ackBlocksOnDurability bool) <-chan struct{}
}

// version is one committed value (or tombstone) for a key.
type version struct {
	seq     record.SequenceNumber
	deleted bool
	value   []byte
}

// KeyDelta is the statistics-relevant outcome of one key's operation within
// a commit, per the per-write delta rule.
type KeyDelta struct {
	KeySpace KeySpace
	Key      string
	Delta    int
}

// committed is one applied commit, retained in memory so later commits can
// run isolation validation against the commits that happened concurrently
// with their snapshot.
type committed struct {
	seq        record.SequenceNumber
	commitType CommitType
	keys       map[KeySpace]map[string]Kind
}

// CommitType reports whether a committed entry was a data or schema commit.
func (c *committed) CommitType() CommitType { return c.commitType }

// Sequence reports the committed entry's assigned sequence number.
func (c *committed) Sequence() record.SequenceNumber { return c.seq }

func (c *committed) touches(ks KeySpace, key string) (Kind, bool) {
	m, ok := c.keys[ks]
	if !ok {
		return 0, false
	}
	k, ok := m[key]
	return k, ok
}

// Store is the multi-version concurrent key-value store. Every
// commit is fully serialised through a single mutex: the transaction
// service only ever runs one write transaction at a time, so this
// matches the system's real concurrency rather than adding optimistic
// retry machinery the core never exercises.
type Store struct {
	wal log

	mu        sync.RWMutex
	data      map[KeySpace]map[string][]version // versions sorted ascending by seq
	history   []*committed                      // ascending by seq, since the last schema boundary
	watermark record.SequenceNumber

	isolation *isolationManager
	counters  *obs.Counters
}

// Open constructs a Store backed by l, starting from an empty key-value
// state at sequence number `from` (the caller — the top-level lifecycle
// glue — is responsible for replaying any prior commits from the log
// before accepting new traffic).
func Open(l log, from record.SequenceNumber, counters *obs.Counters) *Store {
	return &Store{
		wal:       l,
		data:      make(map[KeySpace]map[string][]version),
		watermark: from,
		isolation: newIsolationManager(from),
		counters:  counters,
	}
}

// Watermark returns the sequence number of the most recently applied commit.
func (s *Store) Watermark() record.SequenceNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// OpenSnapshot returns the current watermark as a read snapshot's open
// sequence number.
func (s *Store) OpenSnapshot() record.SequenceNumber {
	return s.Watermark()
}

// Read resolves the MVCC-visible version of key in ks as of snapshot R: the
// newest commit with number <= R; if that commit was a Delete, the key reads
// as absent.
func (s *Store) Read(r record.SequenceNumber, ks KeySpace, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.data[ks][string(key)]
	if len(versions) == 0 {
		return nil, false, nil
	}
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq > r }) - 1
	if idx < 0 {
		return nil, false, nil
	}
	v := versions[idx]
	if v.deleted {
		return nil, false, nil
	}
	return v.value, true, nil
}

// Await blocks until the store's watermark has reached at least seq,
// letting a caller wait for a commit it just submitted to become visible
// to newly opened snapshots.
func (s *Store) Await(ctx context.Context, seq record.SequenceNumber) error {
	return s.isolation.awaitAtLeast(ctx, seq)
}

// Commit runs the four-step commit protocol against buf, a write
// snapshot's buffered operations, opened at sequence number `open`.
//
// Serialising the commit record runs as an errgroup sub-step that is
// awaited before the store's lock is taken; validation, the durable write,
// the sync wait and the in-memory apply then run in sequence under the lock.
func (s *Store) Commit(ctx context.Context, open record.SequenceNumber, commitType CommitType, buf *OperationsBuffer) (record.SequenceNumber, []KeyDelta, error) {
	ops := buf.snapshot()

	var serialized []byte
	var eg errgroup.Group
	eg.Go(func() error {
		serialized = encodeCommit(commitType, open, ops)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return 0, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	concurrent := s.concurrentSinceLocked(open)
	if err := s.validateIsolationLocked(ops, concurrent); err != nil {
		return 0, nil, err
	}

	seq, err := s.wal.SequencedWrite(ctx, CommitRecordType, serialized)
	if err != nil {
		return 0, nil, errs.Wrap(errs.DurableWrite, err, "write commit record")
	}
	<-s.wal.RequestSync(true)

	deltas := s.applyLocked(seq, commitType, open, ops, concurrent)
	s.isolation.advance(seq)

	if s.counters != nil {
		s.counters.CommitsSucceeded.Add(ctx, 1)
	}
	return seq, deltas, nil
}

// concurrentSinceLocked returns the committed entries with sequence number
// strictly greater than open. Must be called with mu held.
func (s *Store) concurrentSinceLocked(open record.SequenceNumber) []*committed {
	idx := sort.Search(len(s.history), func(i int) bool { return open.Before(s.history[i].seq) })
	return s.history[idx:]
}

// validateIsolationLocked rejects the commit if any concurrent commit
// touched a key this commit Inserted under the same key-space and key:
// Insert guarantees no prior value existed, a guarantee
// that only holds if no concurrent commit could have raced it. Delete and
// Put never conflict this way — a concurrent Delete of the same key is
// folded into the statistics delta instead (applyLocked), and Put's
// upsert semantics make a concurrent write harmless by construction.
func (s *Store) validateIsolationLocked(ops map[KeySpace]map[string]Operation, concurrent []*committed) error {
	for ks, m := range ops {
		for key, op := range m {
			if op.Kind != Insert {
				continue
			}
			for _, c := range concurrent {
				if _, touched := c.touches(ks, key); touched {
					if s.counters != nil {
						s.counters.CommitsIsolationFailed.Add(context.Background(), 1)
					}
					return errs.New(errs.Isolation, "key in keyspace %d concurrently modified by commit %d", ks, c.seq)
				}
			}
		}
	}
	return nil
}

// applyLocked installs the commit's operations into the in-memory version
// store and computes each key's statistics delta (the per-write delta
// rule). Must be called with mu held.
func (s *Store) applyLocked(seq record.SequenceNumber, commitType CommitType, open record.SequenceNumber, ops map[KeySpace]map[string]Operation, concurrent []*committed) []KeyDelta {
	entry := &committed{seq: seq, commitType: commitType, keys: make(map[KeySpace]map[string]Kind)}
	var deltas []KeyDelta

	for ks, m := range ops {
		if _, ok := s.data[ks]; !ok {
			s.data[ks] = make(map[string][]version)
		}
		if _, ok := entry.keys[ks]; !ok {
			entry.keys[ks] = make(map[string]Kind)
		}
		for key, op := range m {
			entry.keys[ks][key] = op.Kind

			existedBefore := s.existsAtLocked(ks, key, seq.Previous())
			var delta int
			switch op.Kind {
			case Insert:
				delta = 1
				s.data[ks][key] = append(s.data[ks][key], version{seq: seq, value: op.Value})
			case Delete:
				concurrentlyDeleted := false
				for _, c := range concurrent {
					if k, touched := c.touches(ks, key); touched && k == Delete {
						concurrentlyDeleted = true
						break
					}
				}
				if concurrentlyDeleted {
					delta = 0
				} else {
					delta = -1
				}
				s.data[ks][key] = append(s.data[ks][key], version{seq: seq, deleted: true})
			case Put:
				if !existedBefore {
					delta = 1
				}
				s.data[ks][key] = append(s.data[ks][key], version{seq: seq, value: op.Value})
			}
			deltas = append(deltas, KeyDelta{KeySpace: ks, Key: key, Delta: delta})
		}
	}

	s.history = append(s.history, entry)
	s.watermark = seq
	return deltas
}

// existsAtLocked reports whether key in ks had a non-deleted version at or
// before seq. Must be called with mu held.
func (s *Store) existsAtLocked(ks KeySpace, key string, seq record.SequenceNumber) bool {
	versions := s.data[ks][key]
	if len(versions) == 0 {
		return false
	}
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq > seq }) - 1
	if idx < 0 {
		return false
	}
	return !versions[idx].deleted
}
