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
	"iter"

	"github.com/typedb/typedb-core-go/pkg/record"
	"github.com/typedb/typedb-core-go/storage/mvcc"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// logStore is the minimal surface Load needs from the WAL (storage/wal.Store).
type logStore interface {
	unsequencedWriter
	FindLastType(typ record.Type) (record.Raw, bool, error)
	IterTypeFrom(from record.SequenceNumber, typ record.Type) iter.Seq2[record.Raw, error]
}

// replayer is the minimal surface Load needs from the MVCC store: replaying
// a commit record already on the WAL into its in-memory state, returning
// the same per-key deltas the live Commit call would have.
type replayer interface {
	Replay(raw record.Raw) (mvcc.CommitType, record.SequenceNumber, []mvcc.KeyDelta, error)
}

// Load rebuilds a Statistics by finding the latest persisted snapshot (or
// starting empty) and replaying every data commit since its sequence
// number. Schema commits act as a boundary: they flush the accumulated
// delta and persist a fresh snapshot before continuing.
func Load(ctx context.Context, l logStore, store replayer) (*Statistics, error) {
	var s *Statistics
	last, ok, err := l.FindLastType(SnapshotRecordType)
	if err != nil {
		return nil, errs.Wrap(errs.MVCCRead, err, "find last statistics snapshot")
	}
	if ok {
		s, _, err = Decode(last.Bytes)
		if err != nil {
			return nil, err
		}
	} else {
		s = New(record.MIN)
	}

	for raw, iterErr := range l.IterTypeFrom(s.sequence.Next(), mvcc.CommitRecordType) {
		if iterErr != nil {
			return nil, errs.Wrap(errs.MVCCRead, iterErr, "replay commit stream")
		}
		commitType, seq, deltas, err := store.Replay(raw)
		if err != nil {
			return nil, err
		}
		s.Apply(seq, deltas)
		if commitType == mvcc.SchemaCommit {
			if err := s.Persist(ctx, l); err != nil {
				return nil, errs.Wrap(errs.MVCCRead, err, "persist statistics at schema boundary")
			}
		}
	}
	return s, nil
}
