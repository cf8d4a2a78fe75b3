package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
)

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.Config{
		ServiceName:  "test-svc",
		Environment:  "test",
		Mode:         observability.ModeWait,
		InvocationID: "abc",
	}
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewTracingHandler(inner, cfg))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "found enough rows", "usable_rows", 10)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["trace_id"])
	assert.Equal(t, "0102030405060708", record["span_id"])
	assert.Equal(t, "test-svc", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "wait", record["mode"])
	assert.Equal(t, "abc", record["invocation_id"])
	assert.InDelta(t, 10, record["usable_rows"], 0)
}

func TestTracingHandler_WithGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.Config{ServiceName: "test-svc", Mode: observability.ModeWait}
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewTracingHandler(inner, cfg))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.WithGroup("poll").InfoContext(ctx, "found enough rows", "usable_rows", 10)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	// Service attrs stay top level.
	assert.Equal(t, "test-svc", record["service"])
	assert.Equal(t, "wait", record["mode"])
	assert.NotContains(t, record, "trace_id")

	// Record attrs, trace ids included, nest under the group.
	poll, ok := record["poll"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", poll["trace_id"])
	assert.Equal(t, "0102030405060708", poll["span_id"])
	assert.InDelta(t, 10, poll["usable_rows"], 0)
}

func TestTracingHandler_NoTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	logger := observability.NewLogger(cfg, &buf)

	cfg.LogJSON = true
	jsonLogger := observability.NewLogger(cfg, &buf)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	jsonLogger.Info("shown")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "env")
	assert.Equal(t, "shufflegate", record["service"])
}
