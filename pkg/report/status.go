package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
)

// Status renders one gate evaluation.
func Status(w io.Writer, it poll.Iteration, format Format, colorize bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, it)
	case FormatYAML:
		return writeYAML(w, it)
	case FormatText:
		return writeString(w, statusText(it, colorize))
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func outcomeLabel(outcome poll.Outcome, colorize bool) string {
	var (
		c     *color.Color
		label string
	)

	switch outcome {
	case poll.OutcomeReady:
		c, label = color.New(color.FgGreen, color.Bold), "READY"
	case poll.OutcomeWaiting:
		c, label = color.New(color.FgYellow, color.Bold), "WAITING"
	case poll.OutcomeNotEnoughRows:
		c, label = color.New(color.FgRed), "NOT ENOUGH ROWS"
	default:
		c, label = color.New(color.FgRed), "NO ROWS"
	}

	if colorize {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c.Sprint(label)
}

func statusText(it poll.Iteration, colorize bool) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false

	comma := humanize.Comma

	tbl.AppendRow(table.Row{"Status", outcomeLabel(it.Outcome, colorize)})
	tbl.AppendRow(table.Row{"Files", comma(int64(it.Stats.Files))})
	tbl.AppendRow(table.Row{"Excluded", fmt.Sprintf("%s (temp-like %d, exclude list %d, rowless %d, malformed %d, unreadable %d)",
		comma(int64(it.Stats.Excluded)), it.Stats.TempLike, it.Stats.ExcludeList, it.Stats.Rowless,
		it.Stats.Malformed, it.Dropped)})
	tbl.AppendRow(table.Row{"Total rows", comma(it.Totals.TotalRows)})
	tbl.AppendRow(table.Row{"Random rows (capped)", comma(it.Totals.RandomRowsCapped)})
	tbl.AppendRow(table.Row{"Post-random rows", comma(it.Totals.PostRandomRows)})
	tbl.AppendRow(table.Row{"Usable rows", comma(it.Totals.UsableRows())})
	tbl.AppendRow(table.Row{"Min rows", comma(it.MinRows)})
	tbl.AppendRow(table.Row{"Desired window", comma(it.DesiredWindow)})

	if it.Outcome == poll.OutcomeReady || it.Outcome == poll.OutcomeWaiting {
		source := "record file"
		if !it.RecordFound {
			source = "default"
		}

		tbl.AppendRow(table.Row{"Expect rows", fmt.Sprintf("%s (%s)", comma(it.Record.ExpectRows), source)})
		tbl.AppendRow(table.Row{"Last trigger rows", comma(it.Record.LastRows)})
		tbl.AppendRow(table.Row{"Missing rows", comma(it.Missing)})
	}

	if it.Next != nil {
		tbl.AppendRow(table.Row{"Next expect rows", comma(it.Next.ExpectRows)})
		tbl.AppendRow(table.Row{"Carried rows", fmt.Sprintf("%s (%.1f%%)",
			comma(it.CarriedRows), it.Decision.CarriedPercent())})
	}

	return tbl.Render() + "\n"
}
