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

package executor

import (
	"context"

	"github.com/typedb/typedb-core-go/pkg/obs"
	"github.com/typedb/typedb-core-go/storage/mvcc"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// WriteStage applies a fixed sequence of WriteOps to every row pulled from
// an upstream stage, threading the row produced by one op into the next.
// All rows share one OperationsBuffer, Allocator and rolePlayerIndex, since
// a single write query commits as one transaction.
type WriteStage struct {
	Upstream Stage
	Ops      []WriteOp
	Buf      *mvcc.OperationsBuffer
	Alloc    *Allocator

	rp *rolePlayerIndex
}

// Open implements Stage.
func (s *WriteStage) Open(ctx context.Context) (func() (Row, error), func()) {
	if s.rp == nil {
		s.rp = newRolePlayerIndex()
	}
	next, upstreamCancel := s.Upstream.Open(ctx)
	return func() (Row, error) {
		row, err := next()
		if err != nil {
			return nil, err
		}
		for _, op := range s.Ops {
			row, err = op.apply(row, s.Buf, s.Alloc, s.rp)
			if err != nil {
				return nil, err
			}
		}
		return row, nil
	}, upstreamCancel
}

// drain pulls every row from stage, checking ctx between each one and
// attributing one storage read per row, stopping at the first of:
// exhaustion, an upstream error, or cap+1 rows produced (the caller decides
// what cap+1 means for its own limit policy).
func drain(ctx context.Context, stage Stage, counters *obs.Counters, cap int) ([]Row, error) {
	next, cancel := stage.Open(ctx)
	defer cancel()

	var rows []Row
	for {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		row, err := next()
		if err == Done {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		if counters != nil {
			counters.StorageReads.Add(ctx, 1)
		}
		rows = append(rows, row)
		if cap >= 0 && len(rows) > cap {
			return rows, nil
		}
	}
}

// RunWrite drains stage to completion, hard-aborting the whole pipeline
// with WriteResultsLimitExceeded the moment production exceeds limit: a
// write that overruns its answer-count limit fails outright rather than
// returning a partial result, since the row-per-op side effects already
// buffered cannot be un-applied. A limit of zero or less means unbounded.
func RunWrite(ctx context.Context, stage Stage, limit int, counters *obs.Counters) ([]Row, error) {
	rows, err := drain(ctx, stage, counters, boundOf(limit))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		return nil, errs.New(errs.WriteResultsLimitExceeded, "write query produced more than %d rows", limit)
	}
	return rows, nil
}

// boundOf maps the wire contract's "zero or less means unbounded" onto
// drain's cap convention.
func boundOf(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// RunRead drains stage up to limit rows, truncating and returning a
// ReadResultsLimitExceeded warning rather than failing outright once the
// limit is hit, marking the response partial. The warning is nil when the
// full result fit within limit; a limit of zero or less means unbounded.
func RunRead(ctx context.Context, stage Stage, limit int, counters *obs.Counters) ([]Row, error) {
	rows, err := drain(ctx, stage, counters, boundOf(limit))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		return rows[:limit], errs.New(errs.ReadResultsLimitExceeded, "read query truncated at %d rows", limit)
	}
	return rows, nil
}
