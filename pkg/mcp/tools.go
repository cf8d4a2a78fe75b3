package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/shufflegate/pkg/checkpoint"
	"github.com/Sumatoshi-tech/shufflegate/pkg/config"
	"github.com/Sumatoshi-tech/shufflegate/pkg/npz"
	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
	"github.com/Sumatoshi-tech/shufflegate/pkg/window"
)

// Tool name constants.
const (
	ToolNameGateStatus = "gate_status"
	ToolNameWindowSize = "window_size"
)

// maxWindowQueries bounds the row counts accepted by one window_size call.
const maxWindowQueries = 10_000

// Sentinel errors for tool input validation.
var (
	ErrNoRowCounts      = errors.New("usable_rows must list at least one row count")
	ErrTooManyRowCounts = errors.New("too many row counts")
	ErrNegativeRows     = errors.New("row counts must not be negative")
)

// GateStatusInput is the input schema for the gate_status tool.
type GateStatusInput struct {
	ConfigFile  string   `json:"config_file,omitempty" jsonschema:"path to a shufflegate config file"`
	Directories []string `json:"directories,omitempty" jsonschema:"data directories, overriding the config file"`
	RecordFile  string   `json:"record_file,omitempty" jsonschema:"checkpoint file, overriding the config file"`
}

// WindowSizeInput is the input schema for the window_size tool.
type WindowSizeInput struct {
	UsableRows          []int64  `json:"usable_rows"                     jsonschema:"usable row counts to evaluate"`
	MinRows             int64    `json:"min_rows,omitempty"              jsonschema:"minimum rows (default 250000)"`
	MaxRows             int64    `json:"max_rows,omitempty"              jsonschema:"maximum window, 0 for unbounded"`
	ExpandWindowPerRow  *float64 `json:"expand_window_per_row,omitempty" jsonschema:"initial window growth per row (default 0.4)"`
	TaperWindowExponent float64  `json:"taper_window_exponent,omitempty" jsonschema:"power-law exponent (default 0.65)"`
	TaperWindowScale    float64  `json:"taper_window_scale,omitempty"    jsonschema:"power-law scale, 0 for min_rows"`
	AddToDataRows       float64  `json:"add_to_data_rows,omitempty"      jsonschema:"rows added before evaluating the model"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// GateEvaluator runs one read-only gate evaluation.
type GateEvaluator interface {
	Evaluate(ctx context.Context, input GateStatusInput) (poll.Iteration, error)
}

// ConfigEvaluator evaluates the gate from a config file, reading data files
// with the npz row counter.
type ConfigEvaluator struct{}

// Evaluate implements GateEvaluator.
func (ConfigEvaluator) Evaluate(ctx context.Context, input GateStatusInput) (poll.Iteration, error) {
	cfg, err := config.LoadConfig(input.ConfigFile, nil)
	if err != nil {
		return poll.Iteration{}, err
	}

	if len(input.Directories) > 0 {
		cfg.Directories = input.Directories
	}

	if input.RecordFile != "" {
		cfg.Gate.RecordFile = input.RecordFile
	}

	err = cfg.ValidateGate()
	if err != nil {
		return poll.Iteration{}, fmt.Errorf("invalid configuration: %w", err)
	}

	loop, err := poll.New(cfg.PollConfig(), poll.Deps{
		Counter: npz.NewReader(cfg.Catalog.RowKey),
		Store:   checkpoint.NewStore(cfg.Gate.RecordFile),
	})
	if err != nil {
		return poll.Iteration{}, err
	}

	return loop.Evaluate(ctx)
}

func handleGateStatus(evaluator GateEvaluator) toolHandler[GateStatusInput] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, input GateStatusInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		it, err := evaluator.Evaluate(ctx, input)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(it)
	}
}

func handleWindowSize(
	_ context.Context, _ *mcpsdk.CallToolRequest, input WindowSizeInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	switch {
	case len(input.UsableRows) == 0:
		return errorResult(ErrNoRowCounts)
	case len(input.UsableRows) > maxWindowQueries:
		return errorResult(fmt.Errorf("%w: %d (max %d)", ErrTooManyRowCounts, len(input.UsableRows), maxWindowQueries))
	case slices.ContainsFunc(input.UsableRows, func(n int64) bool { return n < 0 }):
		return errorResult(ErrNegativeRows)
	}

	params := window.Params{
		MinRows:             input.MinRows,
		MaxRows:             input.MaxRows,
		ExpandWindowPerRow:  config.DefaultExpandWindowPerRow,
		TaperWindowExponent: input.TaperWindowExponent,
		TaperWindowScale:    input.TaperWindowScale,
		AddToDataRows:       input.AddToDataRows,
	}

	if params.MinRows <= 0 {
		params.MinRows = config.DefaultMinRows
	}

	if input.ExpandWindowPerRow != nil {
		params.ExpandWindowPerRow = *input.ExpandWindowPerRow
	}

	if params.TaperWindowExponent <= 0 {
		params.TaperWindowExponent = config.DefaultTaperWindowExponent
	}

	points := make([]window.Point, 0, len(input.UsableRows))
	for _, rows := range input.UsableRows {
		points = append(points, window.Point{
			UsableRows: rows,
			Raw:        params.Raw(rows),
			Desired:    params.Desired(rows),
		})
	}

	return jsonResult(points)
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
