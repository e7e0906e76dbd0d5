package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	StageFailures *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Resolver metrics
	ResolverLookups *prometheus.CounterVec

	// Sandbox metrics
	SandboxAcquisitions *prometheus.CounterVec
	SandboxRequests     *prometheus.CounterVec

	// Content metrics
	ProviderBatches   *prometheus.CounterVec
	FragmentsScanned  prometheus.Counter
	ArtifactSizeBytes prometheus.Gauge

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds the most recent run figures for the JSON status endpoint.
type Snapshot struct {
	TotalRuns      int64     `json:"total_runs"`
	FailedRuns     int64     `json:"failed_runs"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastRunSeconds float64   `json:"last_run_seconds"`
	LastStage      string    `json:"last_failed_stage,omitempty"`
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_http_requests_total",
				Help: "Total number of admin API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siul_http_request_duration_seconds",
				Help:    "Admin API request duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
			},
			[]string{"method", "path"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_compile_runs_total",
				Help: "Total number of compile runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "siul_compile_run_duration_seconds",
				Help:    "End-to-end compile run duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_stage_failures_total",
				Help: "Fatal pipeline failures by stage",
			},
			[]string{"stage"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siul_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"stage"},
		),
		ResolverLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_resolver_lookups_total",
				Help: "Dependency map lookups by result (hit, remote, local, failed)",
			},
			[]string{"result"},
		),
		SandboxAcquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_sandbox_acquisitions_total",
				Help: "Sandbox acquisitions by kind and whether a context was created",
			},
			[]string{"kind", "created"},
		),
		SandboxRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_sandbox_requests_total",
				Help: "Sandbox request/response exchanges by kind and status",
			},
			[]string{"kind", "status"},
		),
		ProviderBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siul_provider_batches_total",
				Help: "Content provider batch calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		FragmentsScanned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "siul_fragments_scanned_total",
				Help: "Content fragments aggregated for compilation",
			},
		),
		ArtifactSizeBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "siul_artifact_size_bytes",
				Help: "Size of the last persisted stylesheet",
			},
		),
	}
}

// RecordHTTPRequest records an admin API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records a finished compile run. failedStage is empty on success.
func (m *Metrics) RecordRun(failedStage string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if failedStage != "" {
		outcome = "failure"
		m.StageFailures.WithLabelValues(failedStage).Inc()
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRuns++
	if failedStage != "" {
		m.snapshot.FailedRuns++
	}
	m.snapshot.LastRunAt = time.Now()
	m.snapshot.LastRunSeconds = duration.Seconds()
	m.snapshot.LastStage = failedStage
	m.mu.Unlock()
}

// RecordStage records how long one pipeline stage took.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordResolverLookup records the outcome of a dependency map lookup.
func (m *Metrics) RecordResolverLookup(result string) {
	if m == nil {
		return
	}
	m.ResolverLookups.WithLabelValues(result).Inc()
}

// RecordSandboxAcquire records a sandbox acquisition.
func (m *Metrics) RecordSandboxAcquire(kind string, created bool) {
	if m == nil {
		return
	}
	label := "false"
	if created {
		label = "true"
	}
	m.SandboxAcquisitions.WithLabelValues(kind, label).Inc()
}

// RecordSandboxRequest records a sandbox request/response exchange.
func (m *Metrics) RecordSandboxRequest(kind, status string) {
	if m == nil {
		return
	}
	m.SandboxRequests.WithLabelValues(kind, status).Inc()
}

// RecordProviderBatch records one provider batch call.
func (m *Metrics) RecordProviderBatch(provider, status string, fragments int) {
	if m == nil {
		return
	}
	m.ProviderBatches.WithLabelValues(provider, status).Inc()
	if fragments > 0 {
		m.FragmentsScanned.Add(float64(fragments))
	}
}

// SetArtifactSize records the size of the persisted artifact.
func (m *Metrics) SetArtifactSize(size int) {
	if m == nil {
		return
	}
	m.ArtifactSizeBytes.Set(float64(size))
}

// Snapshot returns a copy of the run snapshot.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
