package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_calls_active",
		Help: "Currently active call sessions",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_calls_total",
		Help: "Total calls processed by pipeline mode",
	}, []string{"mode"})

	CallsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_calls_rejected_total",
		Help: "Calls refused by admission control",
	})

	FramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transport_frames_in_total",
		Help: "Inbound telephony frames by event",
	}, []string{"event"})

	FramesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transport_frames_out_total",
		Help: "Outbound telephony frames by event",
	}, []string{"event"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Frames dropped before reaching a consumer",
	}, []string{"reason"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_stage_duration_seconds",
		Help:    "Per-stage remote call latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_e2e_duration_seconds",
		Help:    "Latency from a user transcript to the first reply sentence",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_vad_speech_segments_total",
		Help: "Speech segments detected by VAD",
	})

	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_realtime_events_total",
		Help: "Events received from the realtime speech service",
	}, []string{"type"})

	SpansOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_trace_spans_opened_total",
		Help: "Trace spans opened by kind",
	}, []string{"kind"})

	SpansClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_trace_spans_closed_total",
		Help: "Trace spans closed by kind and outcome",
	}, []string{"kind", "outcome"})

	TraceAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_trace_anomalies_total",
		Help: "Duplicate opens and closes without an open span",
	}, []string{"kind", "anomaly"})

	ResponseCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_response_cost_usd_total",
		Help: "Accumulated model cost derived from response usage",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tool_calls_total",
		Help: "Tool invocations by name and status",
	}, []string{"tool", "status"})

	RAGDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_rag_duration_seconds",
		Help:    "Retrieval latency (embed + search)",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})
)
