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

// Package wal implements the durable, append-only, crash-consistent record
// log: a directory of rolling files, each holding a
// sequence of be64(seq)|be64(len)|u8(type)|lz4(bytes) records.
//
// The directory holds immutable, append-only files guarded by a lock held
// for the duration of any mutation, with readers opening their own
// *os.File handles.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/typedb/typedb-core-go/pkg/record"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// maxFileSize is the approximate rollover threshold (~16MiB).
	maxFileSize = 16 * 1024 * 1024

	filePrefix = "wal-"
	// seqDigits is the zero-padded sequence number width in filenames,
	// e.g. wal-0000000000000000000000001.
	seqDigits = 25
)

// fileName returns the on-disk filename for the rolling file whose first
// contained sequence number is start.
func fileName(start record.SequenceNumber) string {
	return fmt.Sprintf("%s%0*d", filePrefix, seqDigits, uint64(start))
}

// parseFileName extracts the start sequence number from a WAL file's name,
// reporting ok=false for anything that isn't one of ours (e.g. a lock file).
func parseFileName(name string) (record.SequenceNumber, bool) {
	if len(name) <= len(filePrefix) {
		return 0, false
	}
	if name[:len(filePrefix)] != filePrefix {
		return 0, false
	}
	n, err := strconv.ParseUint(name[len(filePrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return record.SequenceNumber(n), true
}

// walFile tracks one rolling file on disk: its first sequence number, path,
// and the number of bytes currently written to it.
type walFile struct {
	start record.SequenceNumber
	path  string
	size  int64
}

// listFiles returns the WAL files present in dir, sorted ascending by start
// sequence number.
func listFiles(dir string) ([]*walFile, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read wal dir: %w", err)
	}
	var files []*walFile
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		start, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, &walFile{start: start, path: filepath.Join(dir, e.Name()), size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].start < files[j].start })
	return files, nil
}

// fileIndexForSeq returns the index into files of the rightmost file whose
// start sequence number is <= seq, per the "seek to the file containing
// seq" rule. It returns -1 if seq precedes every file (i.e. the log is
// empty or seq is before the first record).
func fileIndexForSeq(files []*walFile, seq record.SequenceNumber) int {
	idx := sort.Search(len(files), func(i int) bool { return files[i].start > seq })
	return idx - 1
}
