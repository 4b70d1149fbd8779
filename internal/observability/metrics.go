package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_gateway_active_sessions",
		Help: "Number of active interview sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_sessions_total",
		Help: "Total number of interview sessions by outcome",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})

	questionsAsked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_questions_asked_total",
		Help: "Total number of questions advanced to",
	})

	// STT metrics
	sttConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_stt_connects_total",
		Help: "Total number of STT connection attempts",
	}, []string{"provider", "status"})

	sttConnectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_stt_connect_latency_seconds",
		Help:    "STT connection handshake latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	sttTranscripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_stt_transcripts_total",
		Help: "Transcript events received from the STT provider",
	}, []string{"final"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_tts_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"provider", "status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_tts_latency_seconds",
		Help:    "TTS synthesis duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Transcript flush metrics
	transcriptFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_transcript_flushes_total",
		Help: "Transcript writes to the interview store",
	}, []string{"trigger", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	droppedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_oversize_chunks_dropped_total",
		Help: "Audio chunks dropped for exceeding the size limit",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"}) // inbound, outbound

	// Report metrics
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_reports_total",
		Help: "Report creation requests by result",
	}, []string{"result"}) // created, existing, too_short, failed

	// Event publishing metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_events_published_total",
		Help: "Interview events published",
	}, []string{"topic", "status"})
)

// Metrics tracks metrics for a single interview session
type Metrics struct {
	startTime    time.Time
	ttsStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its outcome label
func (m *Metrics) RecordSessionEnd(outcome string) {
	activeSessions.Dec()
	totalSessions.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSessionRejected counts a session refused before it became active
func RecordSessionRejected(reason string) {
	totalSessions.WithLabelValues(reason).Inc()
}

// RecordQuestionAsked records a question advance
func (m *Metrics) RecordQuestionAsked() {
	questionsAsked.Inc()
}

// RecordSTTConnect records an STT connection attempt
func RecordSTTConnect(provider string, started time.Time, err error) {
	sttConnects.WithLabelValues(provider, resultLabel(err)).Inc()
	sttConnectLatency.Observe(time.Since(started).Seconds())
}

// RecordSTTTranscript records a transcript event from the provider
func (m *Metrics) RecordSTTTranscript(final bool) {
	sttTranscripts.WithLabelValues(strconv.FormatBool(final)).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(provider string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(provider, status).Inc()
}

// RecordFlush records a transcript write
func (m *Metrics) RecordFlush(trigger string, err error) {
	transcriptFlushes.WithLabelValues(trigger, resultLabel(err)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordDroppedChunk records an oversize audio chunk
func (m *Metrics) RecordDroppedChunk() {
	droppedChunks.Inc()
}

// RecordAudioBytes records audio bytes relayed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordEventPublish records an event publish attempt
func RecordEventPublish(topic string, err error) {
	eventsPublished.WithLabelValues(topic, resultLabel(err)).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordReport counts a report creation request.
func RecordReport(result string) {
	reportsTotal.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
