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
	"fmt"
	"io"
	"os"

	"k8s.io/klog/v2"

	"github.com/typedb/typedb-core-go/pkg/record"
)

// scanResult describes how far into a file valid records extend.
type scanResult struct {
	validEnd int64
	lastSeq  record.SequenceNumber
	sawAny   bool
}

// scanFile reads f record-by-record from the start, validating that each
// record's LZ4 blob decompresses cleanly, and reports the byte offset up to
// which the file holds good records.
//
// A short header, a short payload, a zero-length record, or a
// decompression failure are all treated as "end of log" at the tail — never
// as reasons to discard anything that came before them in the same file.
func scanFile(path string) (scanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return scanResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var res scanResult
	var offset int64
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if errors.Is(err, io.EOF) {
				break // clean end of file, nothing partial
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				klog.V(1).Infof("wal: %s: truncated record header at offset %d, trimming tail", path, offset)
				break
			}
			return res, fmt.Errorf("read header at %d: %w", offset, err)
		}
		seq, blobLen, _ := decodeHeader(header)
		if blobLen == 0 {
			klog.V(1).Infof("wal: %s: zero-length record at offset %d, trimming tail", path, offset)
			break
		}
		blob := make([]byte, blobLen)
		if _, err := io.ReadFull(f, blob); err != nil {
			klog.V(1).Infof("wal: %s: truncated record payload at offset %d, trimming tail", path, offset)
			break
		}
		if _, err := decodeBlock(blob); err != nil {
			klog.Warningf("wal: %s: decompression error at offset %d (%v), treating as end of log", path, offset, err)
			break
		}
		offset += int64(recordHeaderSize + blobLen)
		res.validEnd = offset
		res.lastSeq = seq
		res.sawAny = true
	}
	return res, nil
}

// trimToValidEnd truncates path to end, the offset scanFile determined as
// the last good record boundary, and fsyncs the result.
func trimToValidEnd(path string, end int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, filePerm)
	if err != nil {
		return fmt.Errorf("open %s for trim: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(end); err != nil {
		return fmt.Errorf("truncate %s to %d: %w", path, end, err)
	}
	return f.Sync()
}
