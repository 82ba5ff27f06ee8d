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
	"github.com/typedb/typedb-core-go/pkg/record"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// Replay applies a commit record read back from the WAL at startup (before
// the store accepts new transactions) into the store's in-memory state,
// returning the same commit type, sequence number, and per-key statistics
// deltas that the original live Commit call produced.
//
// Unlike Commit, Replay does not submit a new durable write: raw is already
// on the log. It otherwise runs the identical isolation-window delta
// computation so that Delete/Put dedup rules replay exactly as they
// happened live.
func (s *Store) Replay(raw record.Raw) (CommitType, record.SequenceNumber, []KeyDelta, error) {
	if raw.Type != CommitRecordType {
		return 0, 0, nil, errs.New(errs.DurableWrite, "replay: unexpected record type %d", raw.Type)
	}
	decoded, err := decodeCommit(raw.Bytes)
	if err != nil {
		return 0, 0, nil, errs.Wrap(errs.DurableWrite, err, "replay: decode commit at %d", raw.Sequence)
	}
	ops := make(map[KeySpace]map[string]Operation, len(decoded.Ops))
	for _, e := range decoded.Ops {
		m, ok := ops[e.KeySpace]
		if !ok {
			m = make(map[string]Operation)
			ops[e.KeySpace] = m
		}
		m[e.Key] = e.Op
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	concurrent := s.concurrentSinceLocked(decoded.Open)
	deltas := s.applyLocked(raw.Sequence, decoded.CommitType, decoded.Open, ops, concurrent)
	s.isolation.advance(raw.Sequence)
	return decoded.CommitType, raw.Sequence, deltas, nil
}
