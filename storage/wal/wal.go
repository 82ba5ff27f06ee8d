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

package wal

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"k8s.io/klog/v2"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
	"github.com/typedb/typedb-core-go/pkg/obs"
	"github.com/typedb/typedb-core-go/pkg/record"
)

// DefaultSyncInterval is a small multiple of milliseconds.
const DefaultSyncInterval = 5 * time.Millisecond

// Store is the durable, append-only, crash-consistent record log.
//
// Its in-memory file list is protected by a reader/writer lock: iterators
// (IterAnyFrom, IterTypeFrom, FindLastType) take the read lock only while
// copying the file list and then read through their own file handles
// without holding it, so an iteration that overlaps TruncateFrom can see
// the truncated file; sequenced/unsequenced writes, rollover, and
// truncation take the writer lock. An RWMutex rather than a Mutex because
// the WAL must serve concurrent MVCC readers independently of the single
// writer.
type Store struct {
	dir string

	mu      sync.RWMutex
	files   []*walFile
	lastSeq record.SequenceNumber
	curFile *os.File

	sync *syncer

	counters *obs.Counters
}

// Options configures a Store.
type Options struct {
	// SyncInterval overrides DefaultSyncInterval.
	SyncInterval time.Duration
	Counters     *obs.Counters
}

// Create initialises a brand-new WAL directory, failing if it already
// contains files.
func Create(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errs.Wrap(errs.WALCreate, err, "mkdir %s", dir)
	}
	existing, err := listFiles(dir)
	if err != nil {
		return nil, errs.Wrap(errs.WALCreate, err, "list %s", dir)
	}
	if len(existing) > 0 {
		return nil, errs.New(errs.WALCreate, "wal directory %s is not empty", dir)
	}
	first := &walFile{start: record.MIN.Next(), path: fmtPath(dir, record.MIN.Next())}
	f, err := os.OpenFile(first.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, filePerm)
	if err != nil {
		return nil, errs.Wrap(errs.WALCreate, err, "create %s", first.path)
	}
	s := &Store{
		dir:      dir,
		files:    []*walFile{first},
		lastSeq:  record.MIN,
		curFile:  f,
		counters: opts.Counters,
	}
	s.startSyncer(opts)
	return s, nil
}

// Load opens an existing WAL directory, trimming any corrupted tail from
// its newest file per the crash-recovery procedure. A missing or empty
// directory is initialised as by Create.
func Load(dir string, opts Options) (*Store, error) {
	files, err := listFiles(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.WALLoad, err, "list %s", dir)
	}
	if len(files) == 0 {
		return Create(dir, opts)
	}

	last := files[len(files)-1]
	res, err := scanFile(last.path)
	if err != nil {
		return nil, errs.Wrap(errs.WALLoad, err, "scan %s", last.path)
	}
	if res.validEnd != last.size {
		if err := trimToValidEnd(last.path, res.validEnd); err != nil {
			return nil, errs.Wrap(errs.WALLoad, err, "trim %s", last.path)
		}
		last.size = res.validEnd
	}

	lastSeq := record.MIN
	if res.sawAny {
		lastSeq = res.lastSeq
	} else if len(files) > 1 {
		// The newest file contributed nothing usable; fall back to the
		// previous file's last record by scanning it too. This only
		// matters for a pathological crash that left a brand-new, wholly
		// empty rollover file on disk.
		prevRes, err := scanFile(files[len(files)-2].path)
		if err != nil {
			return nil, errs.Wrap(errs.WALLoad, err, "scan %s", files[len(files)-2].path)
		}
		if prevRes.sawAny {
			lastSeq = prevRes.lastSeq
		}
	}

	f, err := os.OpenFile(last.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, filePerm)
	if err != nil {
		return nil, errs.Wrap(errs.WALLoad, err, "reopen %s", last.path)
	}
	s := &Store{
		dir:      dir,
		files:    files,
		lastSeq:  lastSeq,
		curFile:  f,
		counters: opts.Counters,
	}
	s.startSyncer(opts)
	klog.Infof("wal: loaded %s, %d file(s), next sequence number %d", dir, len(files), s.lastSeq.Next())
	return s, nil
}

func (s *Store) startSyncer(opts Options) {
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	s.sync = newSyncer(s, interval)
}

func fmtPath(dir string, start record.SequenceNumber) string {
	return dir + string(os.PathSeparator) + fileName(start)
}

// SequencedWrite atomically allocates the next sequence number and appends
// a record under it.
func (s *Store) SequencedWrite(_ context.Context, typ record.Type, payload []byte) (record.SequenceNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.lastSeq.Next()
	if err := s.appendLocked(seq, typ, payload); err != nil {
		return 0, err
	}
	s.lastSeq = seq
	return seq, nil
}

// UnsequencedWrite appends a record under the most recently assigned
// sequence number, without allocating a new one.
func (s *Store) UnsequencedWrite(_ context.Context, typ record.Type, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(s.lastSeq, typ, payload)
}

// appendLocked must be called with mu held for writing.
func (s *Store) appendLocked(seq record.SequenceNumber, typ record.Type, payload []byte) error {
	blob, err := encodeBlock(payload)
	if err != nil {
		return err
	}
	rec := append(encodeHeader(seq, len(blob), typ), blob...)

	cur := s.files[len(s.files)-1]
	if cur.size > 0 && cur.size+int64(len(rec)) > maxFileSize {
		if err := s.rollLocked(seq); err != nil {
			return err
		}
		cur = s.files[len(s.files)-1]
	}

	n, err := s.curFile.Write(rec)
	if err != nil {
		return errs.Wrap(errs.WALCreate, err, "append to %s", cur.path)
	}
	cur.size += int64(n)
	return nil
}

// rollLocked closes the current file and opens a new one starting at seq.
// Must be called with mu held for writing.
func (s *Store) rollLocked(seq record.SequenceNumber) error {
	if err := s.curFile.Close(); err != nil {
		return errs.Wrap(errs.WALCreate, err, "close rolled file")
	}
	nf := &walFile{start: seq, path: fmtPath(s.dir, seq)}
	f, err := os.OpenFile(nf.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, filePerm)
	if err != nil {
		return errs.Wrap(errs.WALCreate, err, "create %s", nf.path)
	}
	s.files = append(s.files, nf)
	s.curFile = f
	klog.V(1).Infof("wal: rolled over to %s", nf.path)
	return nil
}

// RequestSync schedules a background fsync round and returns a channel that
// closes once that round completes. If ackBlocksOnDurability is false, the
// returned channel is already closed: the caller is merely triggering a
// sync round without waiting for it.
func (s *Store) RequestSync(ackBlocksOnDurability bool) <-chan struct{} {
	return s.sync.requestSync(ackBlocksOnDurability)
}

// Close stops the background fsync thread and closes the current file.
func (s *Store) Close() error {
	s.sync.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curFile.Close()
}

func (s *Store) currentFile() (*os.File, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.curFile, s.files[len(s.files)-1].path
}
