package commands

import (
	"log/slog"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shufflegate/pkg/mcp"
	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	return newMCPCommandWithDeps(observability.Init)
}

func newMCPCommandWithDeps(initObs observabilityInit) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes the gate as tools that AI agents can discover and invoke:
  - gate_status: read-only gate evaluation for a config file and directories
  - window_size: window model evaluation for given row counts`,
		Args: cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cobraCmd, nil)
			if err != nil {
				return err
			}

			obsCfg, err := observabilityConfig(cfg, observability.ModeMCP, uuid.NewString())
			if err != nil {
				return err
			}

			// Stdout carries the protocol, logs go to stderr as JSON.
			obsCfg.LogJSON = true
			obsCfg.Prometheus = false

			if debug {
				obsCfg.LogLevel = slog.LevelDebug
			}

			providers, err := startObservability(initObs, obsCfg)
			if err != nil {
				return err
			}

			defer shutdownObservability(providers)

			red, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cobraCmd.Context(), shutdownSignals...)
			defer stop()

			srv := mcp.NewServer(mcp.ServerDeps{Logger: providers.Logger, Metrics: red, Tracer: providers.Tracer})

			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}
