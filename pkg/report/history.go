package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/shufflegate/pkg/ledger"
)

// History renders ledger entries in the order given.
func History(w io.Writer, entries []ledger.Entry, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, entries)
	case FormatYAML:
		return writeYAML(w, entries)
	case FormatText:
		return writeString(w, historyText(entries))
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func historyText(entries []ledger.Entry) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Triggered at", "Usable rows", "Expected", "Next expected", "Window", "Carried"})

	for _, e := range entries {
		tbl.AppendRow(table.Row{
			e.TriggeredAt.Format(time.RFC3339),
			humanize.Comma(e.UsableRows),
			humanize.Comma(e.ExpectBefore),
			humanize.Comma(e.ExpectAfter),
			humanize.Comma(e.DesiredWindow),
			humanize.Comma(e.CarriedRows),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d triggers", len(entries))})

	return tbl.Render() + "\n"
}
