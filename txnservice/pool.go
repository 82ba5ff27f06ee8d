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

package txnservice

import (
	"golang.org/x/sync/errgroup"
)

// WorkerPool is the bounded pool of goroutines the per-connection event
// loop dispatches blocking work to (query compilation/execution, commit),
// so the loop itself never blocks on storage I/O directly.
//
// Built on golang.org/x/sync/errgroup with SetLimit, the same package the
// MVCC commit pipeline (storage/mvcc.Store.Commit) uses for its own
// sub-step concurrency; here Go is called fire-and-forget per task rather
// than awaited immediately, and Wait is reserved for process shutdown so
// every dispatched task is joined before the pool is discarded.
type WorkerPool struct {
	eg *errgroup.Group
}

// NewWorkerPool returns a pool that runs at most n tasks concurrently.
func NewWorkerPool(n int) *WorkerPool {
	eg := &errgroup.Group{}
	eg.SetLimit(n)
	return &WorkerPool{eg: eg}
}

// Go schedules fn to run once a slot is available. Go blocks the caller
// until a slot is free, matching errgroup.Group.SetLimit's own contract;
// callers that must not block the event loop invoke Go from a separate
// dispatching goroutine rather than the loop goroutine itself.
func (p *WorkerPool) Go(fn func()) {
	p.eg.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every task the pool has accepted has returned. Used at
// process shutdown to join outstanding work before exit.
func (p *WorkerPool) Wait() { _ = p.eg.Wait() }
