// Package telemetry tracks round and model-call metrics for the chat
// control plane and exposes them through the process Prometheus registry.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelfleet/modelfleet/config"
)

// Telemetry provides monitoring for dispatch rounds and model calls.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu      sync.RWMutex
	metrics Metrics

	roundsTotal   *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelLatency  *prometheus.HistogramVec
	tokensStreamd *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
}

// Metrics holds aggregate counters readable by the ops endpoint.
type Metrics struct {
	TotalRounds      int64
	CancelledRounds  int64
	ModelCalls       map[string]int64
	ModelFailures    map[string]int64
	ModelTokens      map[string]int64
	AverageCallTimes map[string]time.Duration
}

// NewTelemetry creates a telemetry instance and registers its collectors.
// Registration conflicts are ignored so multiple instances can coexist in
// tests.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			ModelCalls:       make(map[string]int64),
			ModelFailures:    make(map[string]int64),
			ModelTokens:      make(map[string]int64),
			AverageCallTimes: make(map[string]time.Duration),
		},
		roundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelfleet_rounds_total",
			Help: "Dispatch rounds by terminal status.",
		}, []string{"status"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelfleet_model_calls_total",
			Help: "Model invocations by model and outcome.",
		}, []string{"model", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelfleet_model_call_seconds",
			Help:    "Model call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		tokensStreamd: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelfleet_stream_tokens_total",
			Help: "Streamed tokens by model.",
		}, []string{"model"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelfleet_gateway_retries_total",
			Help: "Gateway request retries by model.",
		}, []string{"model"}),
	}
	for _, c := range []prometheus.Collector{t.roundsTotal, t.modelCalls, t.modelLatency, t.tokensStreamd, t.retriesTotal} {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				t.logger.Printf("registering collector: %v", err)
			}
		}
	}
	return t
}

// RecordRound records a round reaching a terminal status.
func (t *Telemetry) RecordRound(status string) {
	if t == nil {
		return
	}
	t.roundsTotal.WithLabelValues(status).Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.TotalRounds++
	if status == "cancelled" {
		t.metrics.CancelledRounds++
	}
}

// RecordModelCall records one settled model invocation.
func (t *Telemetry) RecordModelCall(model string, success bool, d time.Duration) {
	if t == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	t.modelCalls.WithLabelValues(model, outcome).Inc()
	t.modelLatency.WithLabelValues(model).Observe(d.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	count := t.metrics.ModelCalls[model]
	prev := t.metrics.AverageCallTimes[model]
	t.metrics.AverageCallTimes[model] = time.Duration((int64(prev)*count + int64(d)) / (count + 1))
	t.metrics.ModelCalls[model] = count + 1
	if !success {
		t.metrics.ModelFailures[model]++
	}
	if t.config.PeriodicLogs {
		t.logger.Printf("model=%s outcome=%s duration=%s", model, outcome, d)
	}
}

// RecordTokens records streamed tokens for a model.
func (t *Telemetry) RecordTokens(model string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.tokensStreamd.WithLabelValues(model).Add(float64(n))
	t.mu.Lock()
	t.metrics.ModelTokens[model] += int64(n)
	t.mu.Unlock()
}

// RecordRetry records a gateway retry for a model.
func (t *Telemetry) RecordRetry(model string) {
	if t == nil {
		return
	}
	t.retriesTotal.WithLabelValues(model).Inc()
}

// GetMetrics returns a copy of the aggregate counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := Metrics{
		TotalRounds:      t.metrics.TotalRounds,
		CancelledRounds:  t.metrics.CancelledRounds,
		ModelCalls:       make(map[string]int64, len(t.metrics.ModelCalls)),
		ModelFailures:    make(map[string]int64, len(t.metrics.ModelFailures)),
		ModelTokens:      make(map[string]int64, len(t.metrics.ModelTokens)),
		AverageCallTimes: make(map[string]time.Duration, len(t.metrics.AverageCallTimes)),
	}
	for k, v := range t.metrics.ModelCalls {
		out.ModelCalls[k] = v
	}
	for k, v := range t.metrics.ModelFailures {
		out.ModelFailures[k] = v
	}
	for k, v := range t.metrics.ModelTokens {
		out.ModelTokens[k] = v
	}
	for k, v := range t.metrics.AverageCallTimes {
		out.AverageCallTimes[k] = v
	}
	return out
}
