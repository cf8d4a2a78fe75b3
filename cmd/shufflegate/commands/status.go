package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shufflegate/pkg/checkpoint"
	"github.com/Sumatoshi-tech/shufflegate/pkg/config"
	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
	"github.com/Sumatoshi-tech/shufflegate/pkg/report"
)

// StatusCommand holds configuration and dependencies for the status command.
type StatusCommand struct {
	format  string
	noColor bool

	initObs    observabilityInit
	newCounter counterFactory
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return newStatusCommandWithDeps(observability.Init, npzCounter)
}

func newStatusCommandWithDeps(initObs observabilityInit, newCounter counterFactory) *cobra.Command {
	sc := &StatusCommand{
		initObs:    initObs,
		newCounter: newCounter,
	}

	cmd := &cobra.Command{
		Use:   "status [dir...]",
		Short: "Evaluate the gate once without waiting",
		Long: `Run one read-only evaluation: count the usable rows, compute the desired
window and show what the gate would decide. The record file is never written.`,
		RunE: sc.run,
	}

	config.RegisterWindowFlags(cmd.Flags())
	config.RegisterGateFlags(cmd.Flags())

	cmd.Flags().StringVar(&sc.format, "format", string(report.FormatText), "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&sc.noColor, "no-color", false, "Disable colored text output")

	return cmd
}

func (sc *StatusCommand) run(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(sc.format, report.FormatText, report.FormatJSON, report.FormatYAML)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	err = cfg.ValidateGate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	invocationID := uuid.NewString()

	obsCfg, err := observabilityConfig(cfg, observability.ModeCLI, invocationID)
	if err != nil {
		return err
	}

	providers, err := startObservability(sc.initObs, obsCfg)
	if err != nil {
		return err
	}

	defer shutdownObservability(providers)

	ctx := cmd.Context()
	warnDeprecated(ctx, providers.Logger, cfg)

	loop, err := poll.New(cfg.PollConfig(), poll.Deps{
		Counter:      sc.newCounter(cfg.Catalog.RowKey),
		Store:        checkpoint.NewStore(cfg.Gate.RecordFile),
		Logger:       providers.Logger,
		Tracer:       providers.Tracer,
		InvocationID: invocationID,
	})
	if err != nil {
		return err
	}

	it, err := loop.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate gate: %w", err)
	}

	colorize := !sc.noColor && !color.NoColor

	return report.Status(cmd.OutOrStdout(), it, format, colorize)
}
