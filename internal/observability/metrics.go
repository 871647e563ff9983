package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recording metrics
	activeRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_trainer_active_recordings",
		Help: "Number of recording attempts currently listening or finalizing",
	})

	recordingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_trainer_recordings_total",
		Help: "Total number of recording attempts started",
	})

	recordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "radio_trainer_recording_duration_seconds",
		Help:    "Captured audio length per attempt in seconds",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
	})

	micReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_trainer_microphone_releases_total",
		Help: "Total number of microphone streams released",
	})

	// Provider metrics
	providerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_provider_results_total",
		Help: "Final provider status per attempt",
	}, []string{"provider", "status"})

	finalizeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radio_trainer_finalize_latency_seconds",
		Help:    "Time from stop to a provider's final transcript",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"provider"})

	overallScores = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radio_trainer_overall_score",
		Help:    "Distribution of overall scores",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	}, []string{"provider"})

	connectionStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_connection_state_changes_total",
		Help: "STT websocket state transitions",
	}, []string{"provider", "state"})

	adapterReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_adapter_reconnects_total",
		Help: "Reconnects scheduled by STT adapters",
	}, []string{"provider"})

	// Token metrics
	tokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_token_requests_total",
		Help: "Token fetches and mints",
	}, []string{"provider", "status"})

	tokenLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radio_trainer_token_latency_seconds",
		Help:    "Token fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radio_trainer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_trainer_audio_bytes_total",
		Help: "PCM bytes forwarded to each provider",
	}, []string{"provider"})
)

// RecordingMetrics tracks metrics for a single recording attempt
type RecordingMetrics struct {
	attemptID string

	mu        sync.Mutex
	startTime time.Time
	stopTime  time.Time
	ended     bool
}

// NewRecordingMetrics creates a metrics tracker for one attempt
func NewRecordingMetrics(attemptID string) *RecordingMetrics {
	return &RecordingMetrics{attemptID: attemptID}
}

// RecordStart marks the attempt as listening
func (m *RecordingMetrics) RecordStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()

	activeRecordings.Inc()
	recordingsTotal.Inc()
}

// RecordStop marks the end of audio capture
func (m *RecordingMetrics) RecordStop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stopTime.IsZero() {
		return
	}
	m.stopTime = time.Now()
	if !m.startTime.IsZero() {
		recordingDuration.Observe(m.stopTime.Sub(m.startTime).Seconds())
	}
	micReleases.Inc()
}

// RecordEnd marks the attempt as finished; later calls are ignored
func (m *RecordingMetrics) RecordEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended || m.startTime.IsZero() {
		return
	}
	m.ended = true
	activeRecordings.Dec()
}

// RecordProviderResult records a provider's terminal status and, for a
// completed provider, how long finalization took and its overall score.
func (m *RecordingMetrics) RecordProviderResult(provider, status string, overall *int) {
	providerResults.WithLabelValues(provider, status).Inc()

	m.mu.Lock()
	stop := m.stopTime
	m.mu.Unlock()

	if !stop.IsZero() && status == "completed" {
		finalizeLatency.WithLabelValues(provider).Observe(time.Since(stop).Seconds())
	}
	if overall != nil {
		overallScores.WithLabelValues(provider).Observe(float64(*overall))
	}
}

// RecordError records an error
func (m *RecordingMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordAudioBytes records audio bytes forwarded to a provider
func (m *RecordingMetrics) RecordAudioBytes(provider string, bytes int) {
	audioBytesSent.WithLabelValues(provider).Add(float64(bytes))
}

// RecordError records an error outside a recording attempt
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordConnectionState counts an STT adapter state transition
func RecordConnectionState(provider, state string) {
	connectionStates.WithLabelValues(provider, state).Inc()
	if state == "reconnecting" {
		adapterReconnects.WithLabelValues(provider).Inc()
	}
}

// RecordTokenRequest records a token fetch or mint
func RecordTokenRequest(provider string, success bool, took time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	tokenRequests.WithLabelValues(provider, status).Inc()
	tokenLatency.WithLabelValues(provider).Observe(took.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
