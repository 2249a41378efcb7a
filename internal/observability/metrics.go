package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/jobs take
// - Traffic: Request/job throughput
// - Errors: Rate of failures
// - Saturation: Queue occupancy against capacity
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics (Latency, Traffic, Errors, Saturation)
	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter

	// Queue and lifecycle metrics
	AdmissionRejectedTotal metric.Int64Counter
	ReaperTransitionsTotal metric.Int64Counter
	ProgressUpdatesTotal   metric.Int64Counter

	queueRunning metric.Int64ObservableGauge
	queuePending metric.Int64ObservableGauge
}

// QueueCountsFunc supplies the current queue occupancy for the observable
// gauges. It is called on every metrics scrape.
type QueueCountsFunc func(ctx context.Context) (model.QueueCounts, error)

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("neuroinsight")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics. Segmentation runs last hours, so the duration buckets
	// stretch far beyond the HTTP ones.
	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 300, 900, 1800, 3600, 7200, 14400, 21600, 36000),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs admitted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of failed jobs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of currently running jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AdmissionRejectedTotal, err = meter.Int64Counter(
		"admission_rejected_total",
		metric.WithDescription("Total submissions rejected at the capacity gate"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ReaperTransitionsTotal, err = meter.Int64Counter(
		"reaper_transitions_total",
		metric.WithDescription("Total jobs failed by reaper sweeps, by reason"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProgressUpdatesTotal, err = meter.Int64Counter(
		"progress_updates_total",
		metric.WithDescription("Total phase advances recorded from status streams"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.queueRunning, err = meter.Int64ObservableGauge(
		"queue_running",
		metric.WithDescription("Jobs currently in the running state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.queuePending, err = meter.Int64ObservableGauge(
		"queue_pending",
		metric.WithDescription("Jobs currently waiting in the queue"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RegisterQueueDepth wires the queue gauges to a live counts source.
func (m *Metrics) RegisterQueueDepth(counts QueueCountsFunc) error {
	_, err := m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		c, err := counts(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(m.queueRunning, int64(c.Running))
		o.ObserveInt64(m.queuePending, int64(c.Pending))
		return nil
	}, m.queueRunning, m.queuePending)
	return err
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobStarted records a job being claimed by a worker.
func (m *Metrics) RecordJobStarted(ctx context.Context, runtimeName string) {
	attrs := metric.WithAttributes(runtimeAttr(runtimeName))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished records a job reaching a terminal state.
func (m *Metrics) RecordJobFinished(ctx context.Context, finalStatus model.Status, durationSeconds float64) {
	attrs := metric.WithAttributes(resultAttr(string(finalStatus)))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1)

	if finalStatus == model.StatusFailed {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordAdmissionRejected records a capacity rejection.
func (m *Metrics) RecordAdmissionRejected(ctx context.Context) {
	m.AdmissionRejectedTotal.Add(ctx, 1)
}

// RecordReaperTransition records a job failed by a reaper sweep.
func (m *Metrics) RecordReaperTransition(ctx context.Context, reason string) {
	m.ReaperTransitionsTotal.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}

// RecordProgressUpdate records a phase advance observed on a status stream.
func (m *Metrics) RecordProgressUpdate(ctx context.Context) {
	m.ProgressUpdatesTotal.Add(ctx, 1)
}
