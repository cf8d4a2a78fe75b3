// Package commands implements CLI command handlers for shufflegate.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/shufflegate/pkg/config"
	"github.com/Sumatoshi-tech/shufflegate/pkg/npz"
	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/rowcount"
	"github.com/Sumatoshi-tech/shufflegate/pkg/version"
)

const configFlag = "config"

// shutdownSignals end the wait loop and the MCP server.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

type observabilityInit func(cfg observability.Config) (observability.Providers, error)

// counterFactory builds the row counter for the configured row key.
type counterFactory func(rowKey string) rowcount.Counter

func npzCounter(rowKey string) rowcount.Counter {
	return npz.NewReader(rowKey)
}

// NewRootCommand builds the shufflegate command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shufflegate",
		Short: "Gate training on self-play data growth",
		Long: `Shufflegate watches self-play data directories, sizes the shuffle window
with a power-law model and decides when enough new rows arrived to train again.

Commands:
  wait      Poll until enough new rows are available
  status    Evaluate the gate once without changing the checkpoint
  curve     Sample the window model over a row range
  history   List recorded triggers
  mcp       Serve the gate as MCP tools on stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(configFlag, "", "Config file (YAML, TOML or JSON)")
	config.RegisterLoggingFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewWaitCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewCurveCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

// loadConfig reads the configuration for cmd. Positional args replace the
// configured directories.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	var path string
	if flag := cmd.Flags().Lookup(configFlag); flag != nil {
		path = flag.Value.String()
	}

	cfg, err := config.LoadConfig(path, cmd.Flags())
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Directories = args
	}

	return cfg, nil
}

// observabilityConfig maps the logging and telemetry sections onto the
// observability settings for one invocation.
func observabilityConfig(cfg *config.Config, mode observability.AppMode, invocationID string) (observability.Config, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return observability.Config{}, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Telemetry.Environment
	obsCfg.Mode = mode
	obsCfg.InvocationID = invocationID
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.Prometheus = cfg.Telemetry.MetricsAddr != ""
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	return obsCfg, nil
}

// startObservability runs initObs and fills any provider it left unset with a
// no-op.
func startObservability(initObs observabilityInit, obsCfg observability.Config) (observability.Providers, error) {
	providers, err := initObs(obsCfg)
	if err != nil {
		return observability.Providers{}, err
	}

	if providers.Logger == nil {
		providers.Logger = slog.New(slog.DiscardHandler)
	}

	if providers.Tracer == nil {
		providers.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	if providers.Meter == nil {
		providers.Meter = metricnoop.NewMeterProvider().Meter("")
	}

	if providers.Shutdown == nil {
		providers.Shutdown = func(context.Context) error { return nil }
	}

	return providers, nil
}

func shutdownObservability(providers observability.Providers) {
	err := providers.Shutdown(context.Background())
	if err != nil {
		providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}

func warnDeprecated(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if cfg.DeprecatedAddRows {
		logger.WarnContext(ctx, "add_to_window_size is deprecated, use add_to_data_rows",
			"add_to_data_rows", cfg.Window.AddToDataRows)
	}
}

// logGateParameters records the effective tuning of this run and warns about
// tuning keys that fell back to defaults.
func logGateParameters(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if len(cfg.Defaulted) > 0 {
		logger.WarnContext(ctx, "gate parameters not configured, using defaults", "keys", cfg.Defaulted)
	}

	logger.InfoContext(ctx, "gate parameters",
		"min_rows", cfg.Window.MinRows,
		"max_rows", cfg.Window.MaxRows,
		"expand_window_per_row", cfg.Window.ExpandWindowPerRow,
		"taper_window_exponent", cfg.Window.TaperWindowExponent,
		"min_new_rows", cfg.Gate.MinNewRows,
		"window_factor", cfg.Gate.WindowFactor,
		"check_wait_seconds", cfg.Gate.CheckWaitSeconds,
	)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
