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

// Package obs wires up the ambient observability stack shared by every
// subsystem: klog for structured logging, and an OpenTelemetry meter for the
// core counters (storage reads, WAL sync rounds, commit successes and
// isolation failures, scheduler queue depth).
package obs

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"k8s.io/klog/v2"
)

// Init installs a process-wide MeterProvider and returns a shutdown function
// to be called just before exiting, joining the shutdown errors of every
// registered reader.
func Init() func(context.Context) {
	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	return func(ctx context.Context) {
		if err := mp.Shutdown(ctx); err != nil {
			klog.Errorf("otel shutdown: %v", err)
		}
	}
}

// Meter is the single meter instance the core's subsystems instrument
// against. Subsystems call obs.Meter() lazily so tests that never call
// obs.Init() still get a working (no-op) meter from the otel default.
func Meter() metric.Meter {
	return otel.Meter("github.com/typedb/typedb-core-go")
}

// Counters bundles the small set of instruments the storage and scheduling
// layers increment, constructed eagerly at startup rather than looked up
// by name on every call.
type Counters struct {
	StorageReads           metric.Int64Counter
	WALSyncRounds          metric.Int64Counter
	CommitsSucceeded       metric.Int64Counter
	CommitsIsolationFailed metric.Int64Counter
	SchedulerQueueDepth    metric.Int64UpDownCounter
}

// NewCounters creates and registers the core's counters against Meter().
func NewCounters() (*Counters, error) {
	m := Meter()
	var err error
	c := &Counters{}
	c.StorageReads, err = m.Int64Counter("typedb.storage.reads",
		metric.WithDescription("key-space reads attributed to query execution"))
	if err != nil {
		return nil, errors.Join(err, errors.New("StorageReads"))
	}
	c.WALSyncRounds, err = m.Int64Counter("typedb.wal.sync_rounds",
		metric.WithDescription("completed fsync rounds performed by the WAL's durability thread"))
	if err != nil {
		return nil, errors.Join(err, errors.New("WALSyncRounds"))
	}
	c.CommitsSucceeded, err = m.Int64Counter("typedb.mvcc.commits_succeeded")
	if err != nil {
		return nil, errors.Join(err, errors.New("CommitsSucceeded"))
	}
	c.CommitsIsolationFailed, err = m.Int64Counter("typedb.mvcc.commits_isolation_failed")
	if err != nil {
		return nil, errors.Join(err, errors.New("CommitsIsolationFailed"))
	}
	c.SchedulerQueueDepth, err = m.Int64UpDownCounter("typedb.txnservice.queue_depth",
		metric.WithDescription("number of queries currently queued behind the running write"))
	if err != nil {
		return nil, errors.Join(err, errors.New("SchedulerQueueDepth"))
	}
	return c, nil
}
