package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shufflegate/pkg/checkpoint"
	"github.com/Sumatoshi-tech/shufflegate/pkg/config"
	"github.com/Sumatoshi-tech/shufflegate/pkg/ledger"
	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
	"github.com/Sumatoshi-tech/shufflegate/pkg/rowcount"
)

const metricsShutdownTimeout = 5 * time.Second

// WaitCommand holds the dependencies of the wait command.
type WaitCommand struct {
	initObs    observabilityInit
	newCounter counterFactory
	// sleeper overrides the poll loop sleeper. Nil sleeps on a timer.
	sleeper poll.Sleeper
}

// NewWaitCommand creates the wait command.
func NewWaitCommand() *cobra.Command {
	return newWaitCommandWithDeps(observability.Init, npzCounter, nil)
}

func newWaitCommandWithDeps(initObs observabilityInit, newCounter counterFactory, sleeper poll.Sleeper) *cobra.Command {
	wc := &WaitCommand{
		initObs:    initObs,
		newCounter: newCounter,
		sleeper:    sleeper,
	}

	cmd := &cobra.Command{
		Use:   "wait [dir...]",
		Short: "Wait until enough new rows are available for training",
		Long: `Poll the data directories until the number of usable rows reaches the
expectation stored in the record file, then write the next expectation and
exit successfully. Interrupting the wait leaves the record file untouched.`,
		RunE: wc.run,
	}

	config.RegisterWindowFlags(cmd.Flags())
	config.RegisterGateFlags(cmd.Flags())

	return cmd
}

func (wc *WaitCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	err = cfg.ValidateGate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	invocationID := uuid.NewString()

	obsCfg, err := observabilityConfig(cfg, observability.ModeWait, invocationID)
	if err != nil {
		return err
	}

	providers, err := startObservability(wc.initObs, obsCfg)
	if err != nil {
		return err
	}

	defer shutdownObservability(providers)

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	logger := providers.Logger
	warnDeprecated(ctx, logger, cfg)
	logGateParameters(ctx, logger, cfg)

	gateMetrics, err := observability.NewGateMetrics(providers.Meter)
	if err != nil {
		return err
	}

	if cfg.Telemetry.MetricsAddr != "" && providers.MetricsHandler != nil {
		stopMetrics := serveMetrics(ctx, cfg.Telemetry.MetricsAddr, providers)
		defer stopMetrics()
	}

	counter := wc.newCounter(cfg.Catalog.RowKey)

	var memo *rowcount.Memo
	if cfg.Catalog.RowCacheEntries > 0 {
		memo = rowcount.NewMemo(counter, cfg.Catalog.RowCacheEntries)
		counter = memo
	}

	deps := poll.Deps{
		Counter:      counter,
		Store:        checkpoint.NewStore(cfg.Gate.RecordFile),
		Sleeper:      wc.sleeper,
		Logger:       logger,
		Tracer:       providers.Tracer,
		Metrics:      gateMetrics,
		InvocationID: invocationID,
	}

	if cfg.Gate.HistoryDB != "" {
		triggers, openErr := ledger.Open(ctx, cfg.Gate.HistoryDB)
		if openErr != nil {
			return openErr
		}

		defer func() {
			closeErr := triggers.Close()
			if closeErr != nil {
				logger.Warn("close trigger history", "error", closeErr)
			}
		}()

		deps.Triggers = triggers
	}

	loop, err := poll.New(cfg.PollConfig(), deps)
	if err != nil {
		return err
	}

	it, err := loop.Run(ctx)
	if err != nil {
		if isCanceled(err) {
			logger.InfoContext(context.WithoutCancel(ctx), "wait interrupted, record file left unchanged")
		}

		return fmt.Errorf("wait: %w", err)
	}

	logger.InfoContext(ctx, "ready to train",
		"usable_rows", it.Totals.UsableRows(),
		"desired_window", it.DesiredWindow,
	)

	if memo != nil {
		stats := memo.Stats()
		logger.DebugContext(ctx, "row count cache",
			"hits", stats.Hits,
			"misses", stats.Misses,
			"entries", stats.Entries,
			"hit_rate", stats.HitRate(),
		)
	}

	return nil
}

// serveMetrics exposes the Prometheus handler until the returned func is
// called.
func serveMetrics(ctx context.Context, addr string, providers observability.Providers) func() {
	srv := observability.NewMetricsServer(addr, providers.MetricsHandler, providers.Tracer)

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			providers.Logger.ErrorContext(ctx, "metrics server failed", "addr", addr, "error", err)
		}
	}()

	providers.Logger.InfoContext(ctx, "serving metrics", "addr", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			providers.Logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
