package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
)

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()

	reader := sdkmetric.NewManualReader()

	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestREDMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	reader, mp := newReader(t)

	red, err := observability.NewREDMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	red.RecordRequest(ctx, "gate_status", observability.StatusOK, 100*time.Millisecond)
	red.RecordRequest(ctx, "gate_status", observability.StatusError, time.Millisecond)

	done := red.TrackInflight(ctx, "window_size")

	rm := collectMetrics(t, reader)

	total := findMetric(rm, "shufflegate.requests.total")
	require.NotNil(t, total)

	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)

	errs := findMetric(rm, "shufflegate.errors.total")
	require.NotNil(t, errs)

	errSum, ok := errs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errSum.DataPoints, 1)
	assert.Equal(t, int64(1), errSum.DataPoints[0].Value)

	inflight := findMetric(rm, "shufflegate.inflight.requests")
	require.NotNil(t, inflight)

	done()

	inflightSum, ok := findMetric(collectMetrics(t, reader), "shufflegate.inflight.requests").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(0), inflightSum.DataPoints[0].Value)
}

func TestGateMetrics_RecordIteration(t *testing.T) {
	t.Parallel()

	reader, mp := newReader(t)

	gm, err := observability.NewGateMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	gm.RecordIteration(ctx, observability.GateSnapshot{
		Outcome:       "ready",
		UsableRows:    5000,
		TotalRows:     6000,
		ExpectRows:    4000,
		DesiredWindow: 2500,
		Duration:      2 * time.Second,
	})
	gm.RecordRowcountFailures(ctx, 3)
	gm.RecordRowcountFailures(ctx, 0)

	rm := collectMetrics(t, reader)

	iterations, ok := findMetric(rm, "shufflegate.poll.iterations.total").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, iterations.DataPoints, 1)

	outcome, found := iterations.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
	require.True(t, found)
	assert.Equal(t, "ready", outcome.AsString())

	usable, ok := findMetric(rm, "shufflegate.rows.usable").Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(5000), usable.DataPoints[0].Value)

	window, ok := findMetric(rm, "shufflegate.window.desired").Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(2500), window.DataPoints[0].Value)

	failures, ok := findMetric(rm, "shufflegate.rowcount.failures.total").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(3), failures.DataPoints[0].Value)

	hist, ok := findMetric(rm, "shufflegate.poll.iteration.duration.seconds").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestGateMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var gm *observability.GateMetrics

	assert.NotPanics(t, func() {
		gm.RecordIteration(context.Background(), observability.GateSnapshot{Outcome: "waiting"})
		gm.RecordRowcountFailures(context.Background(), 1)
	})
}
