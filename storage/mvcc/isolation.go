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
	"container/list"
	"context"
	"sync"

	"github.com/typedb/typedb-core-go/pkg/record"
)

// isolationManager notifies readers waiting for a commit to become visible:
// a list of waiters each wanting the watermark to reach some sequence
// number, released in one pass whenever the watermark advances, rather than
// one goroutine per waiter polling independently.
type isolationManager struct {
	mu        sync.Mutex
	watermark record.SequenceNumber
	waiters   *list.List // of *isolationWaiter
}

type isolationWaiter struct {
	atLeast record.SequenceNumber
	done    chan struct{}
}

func newIsolationManager(initial record.SequenceNumber) *isolationManager {
	return &isolationManager{watermark: initial, waiters: list.New()}
}

// advance raises the watermark to seq and releases any waiter whose target
// has now been reached.
func (m *isolationManager) advance(seq record.SequenceNumber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq.Before(m.watermark) || seq == m.watermark {
		return
	}
	m.watermark = seq
	for e := m.waiters.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*isolationWaiter)
		if w.atLeast.AtOrBefore(m.watermark) {
			close(w.done)
			m.waiters.Remove(e)
		}
		e = next
	}
}

// awaitAtLeast blocks until the watermark reaches atLeast or ctx is done.
func (m *isolationManager) awaitAtLeast(ctx context.Context, atLeast record.SequenceNumber) error {
	m.mu.Lock()
	if atLeast.AtOrBefore(m.watermark) {
		m.mu.Unlock()
		return nil
	}
	w := &isolationWaiter{atLeast: atLeast, done: make(chan struct{})}
	el := m.waiters.PushBack(w)
	m.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.waiters.Remove(el)
		m.mu.Unlock()
		return ctx.Err()
	}
}

func (m *isolationManager) current() record.SequenceNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}
