package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shufflegate/pkg/ledger"
	"github.com/Sumatoshi-tech/shufflegate/pkg/report"
)

const defaultHistoryLimit = 20

// ErrNoHistoryDB is returned when no trigger history database is configured.
var ErrNoHistoryDB = errors.New("no history database configured, set --history-db or gate.history_db")

// HistoryCommand holds configuration for the history command.
type HistoryCommand struct {
	limit  int
	format string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	hc := &HistoryCommand{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded training triggers",
		Long:  "List the triggers recorded by wait in the history database, newest first.",
		Args:  cobra.NoArgs,
		RunE:  hc.run,
	}

	cmd.Flags().String("history-db", "", "SQLite file recording every trigger")
	cmd.Flags().IntVarP(&hc.limit, "limit", "n", defaultHistoryLimit, "Maximum number of triggers to show")
	cmd.Flags().StringVar(&hc.format, "format", string(report.FormatText), "Output format: text, json, yaml")

	return cmd
}

func (hc *HistoryCommand) run(cmd *cobra.Command, _ []string) error {
	format, err := report.ParseFormat(hc.format, report.FormatText, report.FormatJSON, report.FormatYAML)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	if cfg.Gate.HistoryDB == "" {
		return ErrNoHistoryDB
	}

	ctx := cmd.Context()

	triggers, err := ledger.Open(ctx, cfg.Gate.HistoryDB)
	if err != nil {
		return err
	}

	entries, err := triggers.List(ctx, hc.limit)

	closeErr := triggers.Close()
	if err != nil {
		return fmt.Errorf("list triggers: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("close history: %w", closeErr)
	}

	return report.History(cmd.OutOrStdout(), entries, format)
}
