package undo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsRecorded counts RecordOperation calls by operation type and outcome
	operationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zcu_operations_recorded_total",
		Help: "Operations recorded by type and result",
	}, []string{"type", "result"})

	// historySteps counts undo/redo steps by outcome (applied, skipped, failed)
	historySteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zcu_history_steps_total",
		Help: "Undo and redo steps by direction and outcome",
	}, []string{"direction", "outcome"})

	snapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zcu_snapshot_duration_seconds",
		Help:    "Time spent creating and restoring snapshots",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"action"})

	snapshotsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zcu_snapshots_pruned_total",
		Help: "Snapshots removed by retention cleanup",
	})
)

type timer struct {
	action string
	start  time.Time
}

func newTimer(action string) timer {
	return timer{action: action, start: time.Now()}
}

func (t timer) observe() {
	snapshotDuration.WithLabelValues(t.action).Observe(time.Since(t.start).Seconds())
}
