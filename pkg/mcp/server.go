// Package mcp implements a Model Context Protocol server exposing the gate
// status and the window model as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/version"
)

const (
	serverName = "shufflegate"

	// opPrefix prefixes span names and RED operation labels of tool calls.
	opPrefix = "mcp."

	// traceIDPrefix starts the content item carrying the trace id of a
	// sampled call.
	traceIDPrefix = "trace_id="
)

const (
	gateStatusToolDescription = "Evaluate the training gate without changing its checkpoint. " +
		"Reports usable and total rows, the desired shuffle window and whether a new window is ready."

	windowSizeToolDescription = "Evaluate the power-law shuffle window model for a list of usable row counts. " +
		"Model parameters default to the standard configuration."
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics records RED metrics per tool call. Nil disables them.
	Metrics *observability.REDMetrics

	// Tracer starts one span per tool call. Nil disables tracing.
	Tracer trace.Tracer

	// Evaluator runs gate_status calls. Nil uses ConfigEvaluator.
	Evaluator GateEvaluator
}

// Server wraps the MCP SDK server with the gate tool registrations.
type Server struct {
	inner   *mcpsdk.Server
	tools   []string
	metrics *observability.REDMetrics
	tracer  trace.Tracer
}

// toolHandler is the typed handler signature of every tool.
type toolHandler[In any] = func(context.Context, *mcpsdk.CallToolRequest, In) (*mcpsdk.CallToolResult, ToolOutput, error)

// NewServer creates a new MCP server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = ConfigEvaluator{}
	}

	srv := &Server{
		inner: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    serverName,
			Version: version.Version,
		}, opts),
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}

	addTool(srv, ToolNameGateStatus, gateStatusToolDescription, handleGateStatus(evaluator))
	addTool(srv, ToolNameWindowSize, windowSizeToolDescription, handleWindowSize)

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	return slices.Sorted(slices.Values(s.tools))
}

// Run serves on stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport serves on transport until ctx is canceled or the
// connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// addTool registers handler under name with per-call tracing and metrics.
func addTool[In any](s *Server, name, description string, handler toolHandler[In]) {
	tool := &mcpsdk.Tool{Name: name, Description: description}
	mcpsdk.AddTool(s.inner, tool, instrument(s.tracer, s.metrics, name, handler))

	s.tools = append(s.tools, name)
}

// instrument wraps handler in a server span and RED metrics. A sampled span
// appends its trace id to the result content.
func instrument[In any](
	tracer trace.Tracer,
	metrics *observability.REDMetrics,
	name string,
	handler toolHandler[In],
) toolHandler[In] {
	if tracer == nil && metrics == nil {
		return handler
	}

	op := opPrefix + name

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		var span trace.Span
		if tracer != nil {
			ctx, span = tracer.Start(ctx, op,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("mcp.tool", name)),
			)
			defer span.End()
		}

		if metrics != nil {
			defer metrics.TrackInflight(ctx, op)()
		}

		result, output, err := handler(ctx, req, input)
		failed := err != nil || (result != nil && result.IsError)

		if span != nil {
			if failed {
				span.SetStatus(codes.Error, "tool call failed")
			}

			if sc := span.SpanContext(); sc.IsSampled() && result != nil {
				result.Content = append(result.Content, &mcpsdk.TextContent{Text: traceIDPrefix + sc.TraceID().String()})
			}
		}

		if metrics != nil {
			status := observability.StatusOK
			if failed {
				status = observability.StatusError
			}

			metrics.RecordRequest(ctx, op, status, time.Since(start))
		}

		return result, output, err
	}
}
