package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful tool calls.
	OutcomeSuccess = "success"
	// OutcomeError labels tool calls whose handler failed.
	OutcomeError = "error"
)

var (
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "tool_calls_total",
			Help:      "Total number of dispatched tool calls, partitioned by tool, caller and outcome.",
		},
		[]string{"tool", "caller", "outcome"},
	)

	toolCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "tool_call_seconds",
			Help:      "Tool call latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	pipelinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "pipelines_total",
			Help:      "Completed remediation pipelines, partitioned by final incident status.",
		},
		[]string{"status"},
	)

	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "pipeline_seconds",
			Help:      "End-to-end remediation pipeline latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	pipelinesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "pipelines_active",
			Help:      "Pipelines currently running.",
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "incident_transitions_total",
			Help:      "Incident status transitions, partitioned by source and target status.",
		},
		[]string{"from", "to"},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "events_published_total",
			Help:      "Events handed to the broadcaster, partitioned by type.",
		},
		[]string{"type"},
	)

	subscribersDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "event_subscribers_dropped_total",
			Help:      "Event subscribers removed after a failed delivery.",
		},
	)

	monitorChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "monitor_checks_total",
			Help:      "Health poller checks, partitioned by classified status.",
		},
		[]string{"status"},
	)
)

// Register attaches mirador-sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		toolCallsTotal,
		toolCallDurationSeconds,
		pipelinesTotal,
		pipelineDurationSeconds,
		pipelinesActive,
		transitionsTotal,
		eventsPublishedTotal,
		subscribersDroppedTotal,
		monitorChecksTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveToolCall records a dispatched call's duration and outcome.
func ObserveToolCall(tool, caller string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	toolCallsTotal.WithLabelValues(tool, caller, label).Inc()
	if duration < 0 {
		duration = 0
	}
	toolCallDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// PipelineStarted bumps the active pipeline gauge.
func PipelineStarted() {
	pipelinesActive.Inc()
}

// ObservePipeline records a finished pipeline with its final incident status.
func ObservePipeline(duration time.Duration, status string) {
	pipelinesActive.Dec()
	pipelinesTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineDurationSeconds.Observe(duration.Seconds())
}

// ObserveTransition counts an incident status change.
func ObserveTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveEvent counts a published event.
func ObserveEvent(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// ObserveSubscriberDropped counts a subscriber removed after failed delivery.
func ObserveSubscriberDropped() {
	subscribersDroppedTotal.Inc()
}

// ObserveMonitorCheck counts a poller check by classified status.
func ObserveMonitorCheck(status string) {
	monitorChecksTotal.WithLabelValues(status).Inc()
}
