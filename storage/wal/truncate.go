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
	"os"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
	"github.com/typedb/typedb-core-go/pkg/record"
)

// TruncateFrom discards every record with sequence number >= seq: later
// files are deleted outright, and the file containing seq is truncated at
// the byte offset of the first record whose sequence number is >= seq.
//
// The next sequenced write after a truncation is assigned seq itself.
func (s *Store) TruncateFrom(seq record.SequenceNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Nothing at or after seq exists: truncation is a no-op rather than a
	// rewind of the sequence counter.
	if s.lastSeq.Before(seq) {
		return nil
	}

	idx := fileIndexForSeq(s.files, seq)
	if idx < 0 {
		idx = 0
	}
	target := s.files[idx]

	cut, err := firstOffsetAtOrAfter(target.path, seq)
	if err != nil {
		return errs.Wrap(errs.WALCreate, err, "locate truncation point in %s", target.path)
	}

	isCurrent := idx == len(s.files)-1
	if isCurrent {
		if err := s.curFile.Close(); err != nil {
			return errs.Wrap(errs.WALCreate, err, "close current file before truncate")
		}
	}
	for _, f := range s.files[idx+1:] {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errs.Wrap(errs.WALCreate, err, "remove %s", f.path)
		}
	}
	if err := trimToValidEnd(target.path, cut); err != nil {
		return errs.Wrap(errs.WALCreate, err, "truncate %s", target.path)
	}
	target.size = cut

	s.files = s.files[:idx+1]
	f, err := os.OpenFile(target.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, filePerm)
	if err != nil {
		return errs.Wrap(errs.WALCreate, err, "reopen %s after truncate", target.path)
	}
	s.curFile = f

	if seq == record.MIN {
		s.lastSeq = record.MIN
	} else {
		s.lastSeq = seq.Previous()
	}
	return nil
}

// firstOffsetAtOrAfter scans path and returns the byte offset of the first
// record whose sequence number is >= seq, or the file's length if every
// record precedes seq.
func firstOffsetAtOrAfter(path string, seq record.SequenceNumber) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var offset int64
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return 0, err
		}
		recSeq, blobLen, _ := decodeHeader(header)
		if !recSeq.Before(seq) {
			return offset, nil
		}
		if _, err := f.Seek(int64(blobLen), io.SeekCurrent); err != nil {
			return 0, err
		}
		offset += int64(recordHeaderSize + blobLen)
	}
}
