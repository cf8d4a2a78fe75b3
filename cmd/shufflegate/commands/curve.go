package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shufflegate/pkg/config"
	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/report"
)

const (
	defaultCurveTo    = 100_000_000
	defaultCurveSteps = 20
	maxCurveSteps     = 10_000
)

// ErrInvalidSteps is returned for a step count outside [1, maxCurveSteps].
var ErrInvalidSteps = errors.New("steps must be between 1 and 10000")

// CurveCommand holds configuration for the curve command.
type CurveCommand struct {
	from   int64
	to     int64
	steps  int
	format string
	output string
}

// NewCurveCommand creates the curve command.
func NewCurveCommand() *cobra.Command {
	cc := &CurveCommand{}

	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Sample the window model over a range of usable rows",
		Long: `Evaluate the window model at evenly spaced usable row counts and print the
raw and clamped window sizes. The html format writes an interactive chart.`,
		Args: cobra.NoArgs,
		RunE: cc.run,
	}

	config.RegisterWindowFlags(cmd.Flags())

	cmd.Flags().Int64Var(&cc.from, "from", 0, "First usable row count (0 = min rows)")
	cmd.Flags().Int64Var(&cc.to, "to", defaultCurveTo, "Last usable row count")
	cmd.Flags().IntVar(&cc.steps, "steps", defaultCurveSteps, "Number of intervals between from and to")
	cmd.Flags().StringVar(&cc.format, "format", string(report.FormatText), "Output format: text, json, yaml, html")
	cmd.Flags().StringVarP(&cc.output, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

func (cc *CurveCommand) run(cmd *cobra.Command, _ []string) error {
	format, err := report.ParseFormat(cc.format,
		report.FormatText, report.FormatJSON, report.FormatYAML, report.FormatHTML)
	if err != nil {
		return err
	}

	if cc.steps < 1 || cc.steps > maxCurveSteps {
		return fmt.Errorf("%w: %d", ErrInvalidSteps, cc.steps)
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	obsCfg, err := observabilityConfig(cfg, observability.ModeCLI, "")
	if err != nil {
		return err
	}

	warnDeprecated(cmd.Context(), observability.NewLogger(obsCfg, cmd.ErrOrStderr()), cfg)

	from := cc.from
	if from <= 0 {
		from = cfg.Window.MinRows
	}

	points := cfg.WindowParams().Curve(from, cc.to, cc.steps)

	return writeOutput(cmd.OutOrStdout(), cc.output, func(w io.Writer) error {
		return report.Curve(w, points, format)
	})
}

// writeOutput runs render against path, or against stdout when path is empty.
func writeOutput(stdout io.Writer, path string, render func(io.Writer) error) error {
	if path == "" {
		return render(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	err = render(f)

	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("close output: %w", closeErr)
	}

	return err
}
