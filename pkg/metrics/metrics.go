// Package metrics exposes prometheus collectors for the call engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Call lifecycle metrics
	ActiveCalls    prometheus.Gauge
	CallsStarted   prometheus.Counter
	CallsCompleted *prometheus.CounterVec
	CallDuration   prometheus.Histogram

	// Pipeline metrics
	PipelineInvocations prometheus.Counter
	PipelineLatency     *prometheus.HistogramVec
	StageErrors         *prometheus.CounterVec
	ProviderFallbacks   *prometheus.CounterVec
	DegradedResults     *prometheus.CounterVec

	// Buffer metrics
	BufferFlushes      *prometheus.CounterVec
	BufferedDurationMs prometheus.Histogram

	// Playback pacing telemetry
	MarkEvents prometheus.Counter
)

func init() {
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voiceagent_active_calls",
		Help: "Number of calls currently streaming",
	})

	CallsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_calls_started_total",
		Help: "Total number of calls that reached the streaming state",
	})

	CallsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_calls_completed_total",
		Help: "Total number of finalized calls by terminal status",
	}, []string{"status"})

	CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_call_duration_seconds",
		Help:    "Duration of completed calls",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	PipelineInvocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_pipeline_invocations_total",
		Help: "Total number of pipeline invocations (flushes)",
	})

	PipelineLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voiceagent_pipeline_latency_milliseconds",
		Help:    "Pipeline latency per stage; the budget for the total is 2000ms",
		Buckets: []float64{50, 100, 250, 500, 1000, 1500, 2000, 3000, 5000},
	}, []string{"stage"})

	StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_stage_errors_total",
		Help: "Pipeline stage failures after fallback exhaustion",
	}, []string{"stage"})

	ProviderFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_provider_fallbacks_total",
		Help: "Invocations that fell back to the secondary provider",
	}, []string{"capability"})

	DegradedResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_degraded_results_total",
		Help: "Pipeline results carrying a degradation flag",
	}, []string{"flag"})

	BufferFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_buffer_flushes_total",
		Help: "Audio buffer flushes by trigger (threshold or stop)",
	}, []string{"trigger"})

	BufferedDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_buffered_duration_milliseconds",
		Help:    "Buffered audio duration at flush time",
		Buckets: []float64{100, 250, 500, 1000, 1500, 2000, 2500},
	})

	MarkEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_mark_events_total",
		Help: "Playback-complete acknowledgments received from the transport",
	})

	prometheus.MustRegister(
		ActiveCalls,
		CallsStarted,
		CallsCompleted,
		CallDuration,
		PipelineInvocations,
		PipelineLatency,
		StageErrors,
		ProviderFallbacks,
		DegradedResults,
		BufferFlushes,
		BufferedDurationMs,
		MarkEvents,
	)
}
