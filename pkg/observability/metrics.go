package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "shufflegate.requests.total"
	metricRequestDuration  = "shufflegate.request.duration.seconds"
	metricErrorsTotal      = "shufflegate.errors.total"
	metricInflightRequests = "shufflegate.inflight.requests"

	metricPollIterations   = "shufflegate.poll.iterations.total"
	metricPollDuration     = "shufflegate.poll.iteration.duration.seconds"
	metricRowsUsable       = "shufflegate.rows.usable"
	metricRowsTotal        = "shufflegate.rows.total"
	metricRowsExpected     = "shufflegate.rows.expected"
	metricWindowDesired    = "shufflegate.window.desired"
	metricRowcountFailures = "shufflegate.rowcount.failures.total"

	attrOp      = "op"
	attrStatus  = "status"
	attrOutcome = "outcome"

	// StatusOK and StatusError label request outcomes.
	StatusOK    = "ok"
	StatusError = "error"
)

// durationBucketBoundaries covers quick tool calls up to multi-minute scans
// of large self-play directories.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// REDMetrics holds the Rate, Error, Duration instruments for MCP tool calls.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	reqTotal, err := mt.Int64Counter(metricRequestsTotal,
		metric.WithDescription("Total number of requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsTotal, err)
	}

	reqDuration, err := mt.Float64Histogram(metricRequestDuration,
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightRequests,
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightRequests, err)
	}

	return &REDMetrics{
		requestsTotal:    reqTotal,
		requestDuration:  reqDuration,
		errorsTotal:      errTotal,
		inflightRequests: inflight,
	}, nil
}

// RecordRequest records a completed request.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
	}
}

// TrackInflight increments the in-flight gauge and returns its decrement.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}

// GateMetrics holds the poll loop instruments. A nil *GateMetrics records nothing.
type GateMetrics struct {
	iterations metric.Int64Counter
	duration   metric.Float64Histogram
	usable     metric.Int64Gauge
	total      metric.Int64Gauge
	expected   metric.Int64Gauge
	window     metric.Int64Gauge
	failures   metric.Int64Counter
}

// GateSnapshot is the state of one poll iteration.
type GateSnapshot struct {
	Outcome       string
	UsableRows    int64
	TotalRows     int64
	ExpectRows    int64
	DesiredWindow int64
	Duration      time.Duration
}

// NewGateMetrics creates the poll loop instruments from the given meter.
func NewGateMetrics(mt metric.Meter) (*GateMetrics, error) {
	iterations, err := mt.Int64Counter(metricPollIterations,
		metric.WithDescription("Poll iterations by outcome"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPollIterations, err)
	}

	duration, err := mt.Float64Histogram(metricPollDuration,
		metric.WithDescription("Poll iteration duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPollDuration, err)
	}

	gauges := make([]metric.Int64Gauge, 0, 4)

	for _, g := range []struct{ name, desc string }{
		{metricRowsUsable, "Usable rows after the random-row cap"},
		{metricRowsTotal, "Total rows across all data files"},
		{metricRowsExpected, "Usable rows required for the next trigger"},
		{metricWindowDesired, "Desired shuffle window size"},
	} {
		gauge, gaugeErr := mt.Int64Gauge(g.name, metric.WithDescription(g.desc), metric.WithUnit("{row}"))
		if gaugeErr != nil {
			return nil, fmt.Errorf("create %s: %w", g.name, gaugeErr)
		}

		gauges = append(gauges, gauge)
	}

	failures, err := mt.Int64Counter(metricRowcountFailures,
		metric.WithDescription("Data files whose row count could not be read"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRowcountFailures, err)
	}

	return &GateMetrics{
		iterations: iterations,
		duration:   duration,
		usable:     gauges[0],
		total:      gauges[1],
		expected:   gauges[2],
		window:     gauges[3],
		failures:   failures,
	}, nil
}

// RecordIteration records the outcome, timing and row gauges of one iteration.
func (gm *GateMetrics) RecordIteration(ctx context.Context, snap GateSnapshot) {
	if gm == nil {
		return
	}

	gm.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, snap.Outcome)))
	gm.duration.Record(ctx, snap.Duration.Seconds())
	gm.usable.Record(ctx, snap.UsableRows)
	gm.total.Record(ctx, snap.TotalRows)
	gm.window.Record(ctx, snap.DesiredWindow)

	if snap.ExpectRows > 0 {
		gm.expected.Record(ctx, snap.ExpectRows)
	}
}

// RecordRowcountFailures adds n unreadable data files.
func (gm *GateMetrics) RecordRowcountFailures(ctx context.Context, n int) {
	if gm == nil || n <= 0 {
		return
	}

	gm.failures.Add(ctx, int64(n))
}
