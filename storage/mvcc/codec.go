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
	"encoding/binary"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
	"github.com/typedb/typedb-core-go/pkg/record"
)

// Commit records are a flat, explicit tuple encoding rather than a
// reflection-based codec (gob, protobuf): one varint-prefixed entry per
// buffered operation.
//
// Record layout: u8(commitType) | be64(openSeq) | one entry per buffered
// operation: u8(keyspace) | u8(kind) | uvarint(keylen) | key |
// u8(knownToExist) | uvarint(vallen) | value (vallen=0, no bytes, for Delete).

func encodeCommit(commitType CommitType, open record.SequenceNumber, ops map[KeySpace]map[string]Operation) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, byte(commitType))
	openBytes := open.Bytes()
	buf = append(buf, openBytes[:]...)

	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(n int) {
		l := binary.PutUvarint(scratch[:], uint64(n))
		buf = append(buf, scratch[:l]...)
	}
	for ks, m := range ops {
		for key, op := range m {
			buf = append(buf, byte(ks), byte(op.Kind))
			putUvarint(len(key))
			buf = append(buf, key...)
			known := byte(0)
			if op.KnownToExist {
				known = 1
			}
			buf = append(buf, known)
			if op.Kind == Delete {
				putUvarint(0)
				continue
			}
			putUvarint(len(op.Value))
			buf = append(buf, op.Value...)
		}
	}
	return buf
}

// commitEntryOp is one decoded operation from a commit record, retaining
// its key-space and key alongside the Operation for isolation validation.
type commitEntryOp struct {
	KeySpace KeySpace
	Key      string
	Op       Operation
}

// decodedCommit is a fully parsed commit record, as replayed by the
// statistics subsystem when rebuilding state after load.
type decodedCommit struct {
	CommitType CommitType
	Open       record.SequenceNumber
	Ops        []commitEntryOp
}

func decodeCommit(b []byte) (decodedCommit, error) {
	if len(b) < 9 {
		return decodedCommit{}, errs.New(errs.DurableWrite, "commit record too short for header")
	}
	out := decodedCommit{
		CommitType: CommitType(b[0]),
		Open:       record.ParseSequenceNumber(b[1:9]),
	}
	b = b[9:]
	ops, err := decodeCommitOps(b)
	if err != nil {
		return decodedCommit{}, err
	}
	out.Ops = ops
	return out, nil
}

func decodeCommitOps(b []byte) ([]commitEntryOp, error) {
	var out []commitEntryOp
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, errs.New(errs.DurableWrite, "truncated commit record header")
		}
		ks := KeySpace(b[0])
		kind := Kind(b[1])
		b = b[2:]

		keyLen, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, errs.New(errs.DurableWrite, "invalid key length prefix")
		}
		b = b[n:]
		if uint64(len(b)) < keyLen {
			return nil, errs.New(errs.DurableWrite, "truncated commit key")
		}
		key := string(b[:keyLen])
		b = b[keyLen:]

		if len(b) < 1 {
			return nil, errs.New(errs.DurableWrite, "truncated knownToExist flag")
		}
		known := b[0] == 1
		b = b[1:]

		valLen, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, errs.New(errs.DurableWrite, "invalid value length prefix")
		}
		b = b[n:]
		if uint64(len(b)) < valLen {
			return nil, errs.New(errs.DurableWrite, "truncated commit value")
		}
		var val []byte
		if valLen > 0 {
			val = append(val, b[:valLen]...)
		}
		b = b[valLen:]

		out = append(out, commitEntryOp{
			KeySpace: ks,
			Key:      key,
			Op:       Operation{Kind: kind, Value: val, KnownToExist: known},
		})
	}
	return out, nil
}
