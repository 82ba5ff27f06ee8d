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
	"encoding/binary"

	lz4 "github.com/pierrec/lz4/v4"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
	"github.com/typedb/typedb-core-go/pkg/record"
)

// recordHeaderSize is be64(seq) | be64(blobLen) | u8(type).
const recordHeaderSize = 8 + 8 + 1

// lz4HashTableSize matches the window pierrec/lz4 recommends for its
// single-block compressor.
const lz4HashTableSize = 64 << 10

// encodeHeader serialises a record's framing fields.
func encodeHeader(seq record.SequenceNumber, blobLen int, typ record.Type) []byte {
	h := make([]byte, recordHeaderSize)
	sb := seq.Bytes()
	copy(h[0:8], sb[:])
	binary.BigEndian.PutUint64(h[8:16], uint64(blobLen))
	h[16] = byte(typ)
	return h
}

// decodeHeader parses a record's framing fields from exactly recordHeaderSize bytes.
func decodeHeader(h []byte) (seq record.SequenceNumber, blobLen int, typ record.Type) {
	seq = record.ParseSequenceNumber(h[0:8])
	blobLen = int(binary.BigEndian.Uint64(h[8:16]))
	typ = record.Type(h[16])
	return
}

// encodeBlock compresses src with LZ4 and returns a small self-describing
// blob: a 1-byte compression flag, a varint-encoded original length, then
// the payload. The original length must travel with the blob because
// pierrec's block API decompresses into a caller-sized buffer rather than
// growing one itself.
//
// When src does not compress (CompressBlock reports 0, its way of saying
// the output would not fit the worst-case bound), the blob falls back to
// storing src verbatim with flag 0.
func encodeBlock(src []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	dst := make([]byte, bound)
	ht := make([]int, lz4HashTableSize)
	n, err := lz4.CompressBlock(src, dst, ht)
	if err != nil {
		return nil, errs.Wrap(errs.Compression, err, "lz4 compress block")
	}

	var lenBuf [binary.MaxVarintLen64]byte
	lenN := binary.PutUvarint(lenBuf[:], uint64(len(src)))

	if n == 0 {
		blob := make([]byte, 0, 1+lenN+len(src))
		blob = append(blob, 0)
		blob = append(blob, lenBuf[:lenN]...)
		blob = append(blob, src...)
		return blob, nil
	}
	blob := make([]byte, 0, 1+lenN+n)
	blob = append(blob, 1)
	blob = append(blob, lenBuf[:lenN]...)
	blob = append(blob, dst[:n]...)
	return blob, nil
}

// decodeBlock reverses encodeBlock.
func decodeBlock(blob []byte) ([]byte, error) {
	if len(blob) < 2 {
		return nil, errs.New(errs.Decompression, "block too short (%d bytes)", len(blob))
	}
	flag := blob[0]
	origLen, n := binary.Uvarint(blob[1:])
	if n <= 0 {
		return nil, errs.New(errs.Decompression, "invalid length prefix")
	}
	payload := blob[1+n:]

	switch flag {
	case 0:
		if uint64(len(payload)) != origLen {
			return nil, errs.New(errs.Decompression, "raw block length mismatch: got %d want %d", len(payload), origLen)
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case 1:
		dst := make([]byte, origLen)
		written, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, errs.Wrap(errs.Decompression, err, "lz4 uncompress block")
		}
		return dst[:written], nil
	default:
		return nil, errs.New(errs.Decompression, "unknown block flag %d", flag)
	}
}
