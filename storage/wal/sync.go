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
	"context"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/avast/retry-go/v4"
	"k8s.io/klog/v2"
)

// closedSignal is returned to callers of requestSync that only want to
// trigger a round without waiting on it.
var closedSignal = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// syncer runs the background fsync thread for a Store. Every round, it
// takes the current batch of waiting subscriber channels, fsyncs the
// current file, and closes them all at once: concurrent RequestSync calls
// that land in the same round share a single fsync, the way storage
// engines batch-group-commit.
type syncer struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	pending []chan struct{}

	// roundTimes tracks recent fsync durations so slow-disk drift shows up
	// in the logs before it shows up as commit latency.
	roundTimes *movingaverage.MovingAverage

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newSyncer(store *Store, interval time.Duration) *syncer {
	s := &syncer{
		store:      store,
		interval:   interval,
		roundTimes: movingaverage.New(30),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go s.run()
	return s
}

// requestSync schedules a sync round. When ackBlocksOnDurability is false
// the caller only wants the round nudged along and gets a pre-closed
// channel back immediately; when true, the returned channel closes once
// the round that covers this request has completed.
func (s *syncer) requestSync(ackBlocksOnDurability bool) <-chan struct{} {
	s.nudge()
	if !ackBlocksOnDurability {
		return closedSignal
	}
	ch := make(chan struct{})
	s.mu.Lock()
	s.pending = append(s.pending, ch)
	s.mu.Unlock()
	s.nudge()
	return ch
}

func (s *syncer) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *syncer) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			s.runRound()
			return
		case <-s.wake:
			s.runRound()
		case <-ticker.C:
			s.runRound()
		}
	}
}

func (s *syncer) runRound() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	f, path := s.store.currentFile()
	start := time.Now()
	err := retry.Do(
		func() error { return f.Sync() },
		retry.Attempts(3),
		retry.Delay(time.Millisecond),
	)
	if err != nil {
		klog.Errorf("wal: fsync %s failed after retries: %v", path, err)
	} else {
		elapsed := time.Since(start)
		s.roundTimes.Add(float64(elapsed.Microseconds()) / 1000.0)
		klog.V(2).Infof("wal: fsync round took %v (avg %.2fms over recent rounds)", elapsed, s.roundTimes.Avg())
		if s.store.counters != nil {
			s.store.counters.WALSyncRounds.Add(context.Background(), 1)
		}
	}
	for _, ch := range batch {
		close(ch)
	}
}

func (s *syncer) stop() {
	close(s.stopCh)
	<-s.doneCh
}
