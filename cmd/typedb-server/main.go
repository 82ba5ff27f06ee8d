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

// typedb-server opens a database directory, recovers it to a consistent
// state, and holds it open for transactions until interrupted. The
// transport that accepts OpenTransaction/Query/Commit requests and drives
// Database.OpenTransaction sits above this binary's scope.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	typedb "github.com/typedb/typedb-core-go"
	"github.com/typedb/typedb-core-go/pkg/obs"
)

var (
	dataDir         = flag.String("data_dir", "", "Root directory holding the database's WAL and state.")
	walSyncInterval = flag.Duration("wal_sync_interval", 0, "WAL fsync cadence; 0 uses the built-in default.")
	workerPoolSize  = flag.Int("worker_pool_size", typedb.DefaultWorkerPoolSize, "Bound on concurrently executing query and commit tasks.")
	txnTimeout      = flag.Duration("transaction_timeout", 24*time.Hour, "Default per-transaction deadline.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *dataDir == "" {
		klog.Exit("required flag: --data_dir")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownOTel := obs.Init()
	defer shutdownOTel(context.Background())

	db, err := typedb.Open(ctx, typedb.Config{
		Dir:                *dataDir,
		WALSyncInterval:    *walSyncInterval,
		WorkerPoolSize:     *workerPoolSize,
		TransactionTimeout: *txnTimeout,
	})
	if err != nil {
		klog.Exitf("open database %s: %v", *dataDir, err)
	}
	klog.Infof("typedb-server: serving %s (worker pool %d)", *dataDir, *workerPoolSize)

	<-ctx.Done()
	klog.Info("typedb-server: shutting down")
	if err := db.Close(); err != nil {
		klog.Errorf("close database: %v", err)
	}
}
