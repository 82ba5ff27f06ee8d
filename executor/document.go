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

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// Projector turns one bound row into a document (the alternative output
// shape). The document query language that would build a Projector from a
// query's fetch clause is out of scope for this core; Projector is the seam
// a caller plugs one into.
type Projector func(Row) Document

// RunDocuments drains stage through project, mirroring RunRead's
// truncate-and-warn limit policy rather than RunWrite's hard abort, since a
// document query is always a read.
func RunDocuments(ctx context.Context, stage Stage, project Projector, limit int, counters *obs.Counters) ([]Document, error) {
	rows, err := drain(ctx, stage, counters, boundOf(limit))
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, project(row))
	}
	if limit > 0 && len(rows) > limit {
		return docs[:limit], errs.New(errs.ReadResultsLimitExceeded, "document query truncated at %d documents", limit)
	}
	return docs, nil
}
