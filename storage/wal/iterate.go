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
	"errors"
	"io"
	"iter"
	"os"

	"github.com/typedb/typedb-core-go/pkg/record"
)

// IterAnyFrom returns a snapshot iterator over every record (sequenced and
// unsequenced, of any type) whose sequence number is >= from. The iterator
// only reflects files present at the moment of the call: it does not tail
// records appended after iteration begins.
func (s *Store) IterAnyFrom(from record.SequenceNumber) iter.Seq2[record.Raw, error] {
	return s.iterFrom(from, nil)
}

// IterTypeFrom is IterAnyFrom filtered to a single record type.
func (s *Store) IterTypeFrom(from record.SequenceNumber, typ record.Type) iter.Seq2[record.Raw, error] {
	return s.iterFrom(from, &typ)
}

func (s *Store) iterFrom(from record.SequenceNumber, typ *record.Type) iter.Seq2[record.Raw, error] {
	return func(yield func(record.Raw, error) bool) {
		s.mu.RLock()
		files := append([]*walFile(nil), s.files...)
		s.mu.RUnlock()

		idx := fileIndexForSeq(files, from)
		if idx < 0 {
			idx = 0
		}
		for fi := idx; fi < len(files); fi++ {
			if !iterFile(files[fi].path, from, typ, yield) {
				return
			}
		}
	}
}

// iterFile streams the records of one WAL file in order, skipping any
// whose sequence number precedes minSeq and any that don't match typ (when
// typ is non-nil). It returns false if yield asked to stop.
func iterFile(path string, minSeq record.SequenceNumber, typ *record.Type, yield func(record.Raw, error) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		return yield(record.Raw{}, err)
	}
	defer f.Close()

	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if errors.Is(err, io.EOF) {
				return true
			}
			return yield(record.Raw{}, err)
		}
		seq, blobLen, t := decodeHeader(header)
		blob := make([]byte, blobLen)
		if _, err := io.ReadFull(f, blob); err != nil {
			return yield(record.Raw{}, err)
		}
		if seq.Before(minSeq) {
			continue
		}
		if typ != nil && t != *typ {
			continue
		}
		payload, err := decodeBlock(blob)
		if err != nil {
			return yield(record.Raw{}, err)
		}
		if !yield(record.Raw{Sequence: seq, Type: t, Bytes: payload}, nil) {
			return false
		}
	}
}

// FindLastType returns the most recent record of type typ, scanning files
// newest-first and, within a file, oldest-first: the search stops at the
// first file that contains any match, since an older file cannot hold a
// more recent one. It reports ok=false if no record of that type exists.
func (s *Store) FindLastType(typ record.Type) (rec record.Raw, ok bool, err error) {
	s.mu.RLock()
	files := append([]*walFile(nil), s.files...)
	s.mu.RUnlock()

	for fi := len(files) - 1; fi >= 0; fi-- {
		rec, ok, err = lastTypeInFile(files[fi].path, typ)
		if err != nil {
			return record.Raw{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}
	return record.Raw{}, false, nil
}

func lastTypeInFile(path string, typ record.Type) (record.Raw, bool, error) {
	var last record.Raw
	var found bool
	var scanErr error
	iterFile(path, record.MIN, &typ, func(r record.Raw, err error) bool {
		if err != nil {
			scanErr = err
			return false
		}
		last = r
		found = true
		return true
	})
	if scanErr != nil {
		return record.Raw{}, false, scanErr
	}
	return last, found, nil
}
