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

// Package record holds the small set of wire-ish value types shared by the
// log store and the MVCC snapshot store: the monotonic SequenceNumber, the
// raw on-log Record triple, and the record-type tag byte. Keeping these in
// their own package avoids an import cycle between storage/wal and
// storage/mvcc.
package record

import "encoding/binary"

// SequenceNumber is a monotonic 64-bit integer identifying a point in the
// commit history. MIN is reserved and is never assigned to a commit.
type SequenceNumber uint64

// MIN is the reserved minimum sequence number; no commit is ever assigned it.
const MIN SequenceNumber = 0

// Next returns the successor sequence number.
func (s SequenceNumber) Next() SequenceNumber { return s + 1 }

// Previous returns the predecessor sequence number. Calling Previous on MIN
// is a logic error in the caller and is not guarded against here.
func (s SequenceNumber) Previous() SequenceNumber { return s - 1 }

// Before reports whether s occurs strictly before o in the total order.
func (s SequenceNumber) Before(o SequenceNumber) bool { return s < o }

// AtOrBefore reports whether s occurs at or before o in the total order.
func (s SequenceNumber) AtOrBefore(o SequenceNumber) bool { return s <= o }

// Bytes serialises s as 8 big-endian bytes.
func (s SequenceNumber) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(s))
	return b
}

// ParseSequenceNumber parses 8 big-endian bytes into a SequenceNumber.
func ParseSequenceNumber(b []byte) SequenceNumber {
	return SequenceNumber(binary.BigEndian.Uint64(b))
}

// Type tags the kind of a Record. Log stores treat this as opaque; callers
// (the MVCC store, the statistics subsystem) assign meaning to each value.
type Type uint8

// Raw is the triple a log store persists and replays: the sequence number
// it was assigned (or, for an unsequenced record, the sequence number of the
// most recent sequenced record it is attached to), a type tag, and the
// opaque payload.
type Raw struct {
	Sequence SequenceNumber
	Type     Type
	Bytes    []byte
}
