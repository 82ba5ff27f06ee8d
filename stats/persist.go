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

package stats

import (
	"context"
	"encoding/binary"

	"github.com/typedb/typedb-core-go/pkg/record"
	"github.com/typedb/typedb-core-go/schema"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// SnapshotRecordType is the WAL record type tag statistics snapshots are
// persisted under, written as an unsequenced record pinned to the last
// sequenced commit.
const SnapshotRecordType record.Type = 2

// field tags the self-describing record's fields by a stable small integer
// rather than position, so a future EncodingVersion can append fields a
// decoder built against an older version simply skips over, reporting the
// unknown trailing fields to the caller.
type field uint8

const (
	fEncodingVersion field = iota + 1
	fSequence
	fTotalThing
	fTotalEntity
	fTotalRelation
	fTotalAttribute
	fTotalRole
	fTotalHas
	fEntityCounts
	fRelationCounts
	fAttributeCounts
	fRoleCounts
	fHasAttributeCounts
	fAttributeOwnerCounts
	fRolePlayerCounts
	fRelationRoleCounts
	fPlayerIndexCounts
)

// Persist serialises the current Statistics as a self-describing record and
// appends it as an unsequenced record on l.
func (s *Statistics) Persist(ctx context.Context, l unsequencedWriter) error {
	s.mu.RLock()
	payload := s.encodeLocked()
	s.mu.RUnlock()
	return l.UnsequencedWrite(ctx, SnapshotRecordType, payload)
}

// unsequencedWriter is the minimal surface stats needs from a log store.
type unsequencedWriter interface {
	UnsequencedWrite(ctx context.Context, typ record.Type, payload []byte) error
}

func (s *Statistics) encodeLocked() []byte {
	var w writer
	w.u8(byte(fEncodingVersion))
	w.u64(EncodingVersion)
	w.u8(byte(fSequence))
	w.u64(uint64(s.sequence))
	w.u8(byte(fTotalThing))
	w.i64(s.totalThing)
	w.u8(byte(fTotalEntity))
	w.i64(s.totalEntity)
	w.u8(byte(fTotalRelation))
	w.i64(s.totalRelation)
	w.u8(byte(fTotalAttribute))
	w.i64(s.totalAttribute)
	w.u8(byte(fTotalRole))
	w.i64(s.totalRole)
	w.u8(byte(fTotalHas))
	w.i64(s.totalHas)
	w.u8(byte(fEntityCounts))
	w.idMap(s.entityCounts)
	w.u8(byte(fRelationCounts))
	w.idMap(s.relationCounts)
	w.u8(byte(fAttributeCounts))
	w.idMap(s.attributeCounts)
	w.u8(byte(fRoleCounts))
	w.idMap(s.roleCounts)
	w.u8(byte(fHasAttributeCounts))
	w.pairMap(s.hasAttributeCounts)
	w.u8(byte(fAttributeOwnerCounts))
	w.pairMap(s.attributeOwnerCounts)
	w.u8(byte(fRolePlayerCounts))
	w.pairMap(s.rolePlayerCounts)
	w.u8(byte(fRelationRoleCounts))
	w.pairMap(s.relationRoleCounts)
	w.u8(byte(fPlayerIndexCounts))
	w.pairMap(s.playerIndexCounts)
	return w.buf
}

// Decode parses a persisted snapshot record, tolerating and reporting any
// field tags it does not recognise (forward compatibility) rather than
// failing outright.
func Decode(payload []byte) (*Statistics, []byte, error) {
	r := reader{buf: payload}
	s := New(0)
	var unknown []byte
	for r.remaining() > 0 {
		tag := field(r.u8())
		switch tag {
		case fEncodingVersion:
			r.u64() // version itself isn't needed to interpret a record this decoder understands
		case fSequence:
			s.sequence = record.SequenceNumber(r.u64())
		case fTotalThing:
			s.totalThing = r.i64()
		case fTotalEntity:
			s.totalEntity = r.i64()
		case fTotalRelation:
			s.totalRelation = r.i64()
		case fTotalAttribute:
			s.totalAttribute = r.i64()
		case fTotalRole:
			s.totalRole = r.i64()
		case fTotalHas:
			s.totalHas = r.i64()
		case fEntityCounts:
			r.idMapInto(s.entityCounts)
		case fRelationCounts:
			r.idMapInto(s.relationCounts)
		case fAttributeCounts:
			r.idMapInto(s.attributeCounts)
		case fRoleCounts:
			r.idMapInto(s.roleCounts)
		case fHasAttributeCounts:
			r.pairMapInto(s.hasAttributeCounts)
		case fAttributeOwnerCounts:
			r.pairMapInto(s.attributeOwnerCounts)
		case fRolePlayerCounts:
			r.pairMapInto(s.rolePlayerCounts)
		case fRelationRoleCounts:
			r.pairMapInto(s.relationRoleCounts)
		case fPlayerIndexCounts:
			r.pairMapInto(s.playerIndexCounts)
		default:
			// New fields are only ever appended after every known one, so
			// the first unrecognised tag marks the start of the unknown
			// tail; report it whole rather than misparsing payload bytes
			// as further tags.
			unknown = append(unknown, byte(tag))
			unknown = append(unknown, r.buf...)
			return s, unknown, nil
		}
		if r.err != nil {
			return nil, nil, errs.Wrap(errs.MVCCRead, r.err, "decode statistics record")
		}
	}
	return s, unknown, nil
}

// --- tiny field-named tuple codec ---

type writer struct{ buf []byte }

func (w *writer) u8(b byte) { w.buf = append(w.buf, b) }
func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) uvarint(v int) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(v))
	w.buf = append(w.buf, scratch[:n]...)
}

func (w *writer) idMap(m map[schema.ID]int64) {
	w.uvarint(len(m))
	for k, v := range m {
		w.u64(uint64(k))
		w.i64(v)
	}
}

func (w *writer) pairMap(m map[pairKey]int64) {
	w.uvarint(len(m))
	for k, v := range m {
		w.u64(uint64(k.A))
		w.u64(uint64(k.B))
		w.i64(v)
	}
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) remaining() int { return len(r.buf) }

func (r *reader) need(n int) bool {
	if r.err != nil || len(r.buf) < n {
		if r.err == nil {
			r.err = errs.New(errs.MVCCRead, "truncated statistics record")
		}
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) uvarint() int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errs.New(errs.MVCCRead, "invalid varint in statistics record")
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

func (r *reader) idMapInto(m map[schema.ID]int64) {
	n := r.uvarint()
	for i := 0; i < n && r.err == nil; i++ {
		k := schema.ID(r.u64())
		m[k] = r.i64()
	}
}

func (r *reader) pairMapInto(m map[pairKey]int64) {
	n := r.uvarint()
	for i := 0; i < n && r.err == nil; i++ {
		a := schema.ID(r.u64())
		b := schema.ID(r.u64())
		m[pairKey{a, b}] = r.i64()
	}
}
