// Package metrics exposes the orchestrator's Prometheus metrics, the way
// aistore's own stats package instruments its daemons with
// prometheus/client_golang (ambient observability, outside the spec's
// functional scope but carried regardless per the rest of the pack's
// convention of always instrumenting a long-running daemon).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaorch",
		Name:      "tasks_submitted_total",
		Help:      "Tasks accepted by the admission controller, by initial detected media type.",
	}, []string{"media_type"})

	TasksTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaorch",
		Name:      "tasks_terminal_total",
		Help:      "Tasks that reached a terminal status, by that status.",
	}, []string{"status"})

	MergeActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaorch",
		Name:      "merge_actions_total",
		Help:      "Result Aggregator merge outcomes, by action and stage.",
	}, []string{"action", "stage"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaorch",
		Name:      "dead_letters_total",
		Help:      "Messages moved to the dead letter after exhausting consecutive-failure retries.",
	}, []string{"stage"})

	CallbackDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaorch",
		Name:      "callback_deliveries_total",
		Help:      "HTTP callback delivery attempts, by final outcome.",
	}, []string{"outcome"})

	BlobPutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaorch",
		Name:      "blob_put_duration_seconds",
		Help:      "Latency of blob store uploads, by backend.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})
)
