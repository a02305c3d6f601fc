// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package metrics exposes the transaction engine's counters and
// histograms through a prometheus registry, so a host process can serve
// them alongside its own metrics without fildestx dictating how.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	txStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fildestx_transactions_started_total",
		Help: "Transactions begun, regardless of outcome.",
	})

	commitSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fildestx_commits_succeeded_total",
		Help: "Transactions that committed successfully.",
	})

	commitFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fildestx_commits_failed_total",
		Help: "Transactions whose apply phase failed after validation passed.",
	})

	txAborted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fildestx_transactions_aborted_total",
		Help: "Transactions rolled back, by the caller or by a failed validate.",
	})

	conflictsByReason = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fildestx_conflicts_total",
		Help: "Conflict errors raised, broken down by the detecting stage.",
	}, []string{"reason"})

	lockHoldSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fildestx_commit_duration_seconds",
		Help:    "Wall-clock time from commit start to lock release.",
		Buckets: prometheus.DefBuckets,
	})
)

// Registry is the collector set a host process registers into its own
// prometheus.Registerer.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(txStarted, commitSucceeded, commitFailed, txAborted, conflictsByReason, lockHoldSeconds)
}

// TxStarted records a Begin call.
func TxStarted() { txStarted.Inc() }

// CommitSucceeded records a successful commit and its duration from
// Commit's entry to its final lock release.
func CommitSucceeded(d time.Duration) {
	commitSucceeded.Inc()
	lockHoldSeconds.Observe(d.Seconds())
}

// CommitFailed records a commit whose apply phase failed after validation
// had already passed (a Fatal-tagged condition per the error taxonomy).
func CommitFailed() { commitFailed.Inc() }

// TxAborted records a Rollback call, whether caller-initiated or triggered
// by a failed validate during Commit.
func TxAborted() { txAborted.Inc() }

// ConflictDetected records a Conflict error, tagged with the stage that
// raised it (e.g. "validate", "lock").
func ConflictDetected(reason string) { conflictsByReason.WithLabelValues(reason).Inc() }
