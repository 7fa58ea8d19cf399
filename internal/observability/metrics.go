package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the scene enrichment service.
// Metrics are organized by subsystem: runs, waves, scenes, enrichment requests and
// the completion chain. All collectors are registered via promauto with the default
// Prometheus registry.
type Metrics struct {
	// RunsStarted counts enrichment runs that acquired the job lock.
	RunsStarted prometheus.Counter

	// RunsCompleted counts runs that drained their worklist.
	RunsCompleted prometheus.Counter

	// RunsCancelled counts runs stopped between waves because the job was halted.
	RunsCancelled prometheus.Counter

	// RunsFailed counts runs that ended in a panic.
	RunsFailed prometheus.Counter

	// RunDuration observes the duration of runs in seconds, chain included.
	RunDuration prometheus.Histogram

	// ActiveRuns tracks runs currently holding a job lock.
	ActiveRuns prometheus.Gauge

	// WavesTotal counts settled waves.
	WavesTotal prometheus.Counter

	// WaveSize observes how many scenes each wave carried.
	WaveSize prometheus.Histogram

	// BackoffDelays counts the fixed pauses paid between waves.
	BackoffDelays prometheus.Counter

	// SceneAttempts counts enrichment attempts, labeled by result (success, retry, terminal, exhausted).
	SceneAttempts *prometheus.CounterVec

	// ScenesSucceeded counts scenes enriched successfully.
	ScenesSucceeded prometheus.Counter

	// ScenesAbandoned counts abandoned scenes, labeled by reason (terminal, exhausted, cancelled).
	ScenesAbandoned *prometheus.CounterVec

	// EnrichmentRequestDuration observes remote enrichment call duration in seconds, labeled by backend.
	EnrichmentRequestDuration *prometheus.HistogramVec

	// EnrichmentRequestsFailed counts failed enrichment calls, labeled by backend and error type.
	EnrichmentRequestsFailed *prometheus.CounterVec

	// ChainSteps counts completion chain steps, labeled by step and status.
	ChainSteps *prometheus.CounterVec

	// ResumeRequests counts resume invocations, labeled by outcome (started, active, nothing_pending, error).
	ResumeRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of enrichment runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of enrichment runs that drained their worklist",
		}),
		RunsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_cancelled_total",
			Help:      "Total number of enrichment runs stopped between waves",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of enrichment runs that crashed",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of enrichment runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of enrichment runs currently holding a job lock",
		}),

		// Waves
		WavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waves_total",
			Help:      "Total number of settled waves",
		}),
		WaveSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wave_size",
			Help:      "Number of scenes issued per wave",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 20},
		}),
		BackoffDelays: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_delays_total",
			Help:      "Total number of backoff pauses taken before a wave",
		}),

		// Scenes
		SceneAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scene_attempts_total",
			Help:      "Total number of scene enrichment attempts by result",
		}, []string{"result"}),
		ScenesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_succeeded_total",
			Help:      "Total number of scenes enriched successfully",
		}),
		ScenesAbandoned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_abandoned_total",
			Help:      "Total number of scenes abandoned by reason",
		}, []string{"reason"}),

		// Enrichment requests
		EnrichmentRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_request_duration_seconds",
			Help:      "Duration of scene enrichment requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"backend"}),
		EnrichmentRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_requests_failed_total",
			Help:      "Total number of failed scene enrichment requests",
		}, []string{"backend", "error_type"}),

		// Completion chain
		ChainSteps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_steps_total",
			Help:      "Total number of completion chain steps by step and status",
		}, []string{"step", "status"}),
		ResumeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resume_requests_total",
			Help:      "Total number of resume requests by outcome",
		}, []string{"outcome"}),
	}
}

// RecordRunStarted records that a run acquired its job lock.
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RecordRunFinished records the end of a run and releases its active slot.
// outcome is "completed", "cancelled" or "failed".
func (m *Metrics) RecordRunFinished(outcome string, durationSeconds float64) {
	switch outcome {
	case "cancelled":
		m.RunsCancelled.Inc()
	case "failed":
		m.RunsFailed.Inc()
	default:
		m.RunsCompleted.Inc()
	}
	m.RunDuration.Observe(durationSeconds)
	m.ActiveRuns.Dec()
}

// RecordWave records a settled wave.
func (m *Metrics) RecordWave(size int) {
	m.WavesTotal.Inc()
	m.WaveSize.Observe(float64(size))
}

// RecordBackoff records a backoff pause.
func (m *Metrics) RecordBackoff() {
	m.BackoffDelays.Inc()
}

// RecordSceneAttempt records the result of one enrichment attempt.
func (m *Metrics) RecordSceneAttempt(result string) {
	m.SceneAttempts.WithLabelValues(result).Inc()
}

// RecordSceneSucceeded records a scene enriched successfully.
func (m *Metrics) RecordSceneSucceeded() {
	m.ScenesSucceeded.Inc()
}

// RecordSceneAbandoned records an abandoned scene.
func (m *Metrics) RecordSceneAbandoned(reason string) {
	m.ScenesAbandoned.WithLabelValues(reason).Inc()
}

// RecordEnrichmentRequest records the duration of an enrichment call.
func (m *Metrics) RecordEnrichmentRequest(backend string, durationSeconds float64) {
	m.EnrichmentRequestDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordEnrichmentRequestFailed records a failed enrichment call.
func (m *Metrics) RecordEnrichmentRequestFailed(backend, errorType string) {
	m.EnrichmentRequestsFailed.WithLabelValues(backend, errorType).Inc()
}

// RecordChainStep records a completion chain step outcome.
func (m *Metrics) RecordChainStep(step, status string) {
	m.ChainSteps.WithLabelValues(step, status).Inc()
}

// RecordResume records the outcome of a resume request.
func (m *Metrics) RecordResume(outcome string) {
	m.ResumeRequests.WithLabelValues(outcome).Inc()
}
