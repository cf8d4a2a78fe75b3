package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sumatoshi-tech/shufflegate/pkg/window"
)

const (
	chartWidth  = "100%"
	chartHeight = "500px"
	lineWidth   = 2
)

// Curve renders sampled points of the window model.
func Curve(w io.Writer, points []window.Point, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, points)
	case FormatYAML:
		return writeYAML(w, points)
	case FormatText:
		return writeString(w, curveText(points))
	case FormatHTML:
		err := curveChart(points).Render(w)
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func curveText(points []window.Point) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Usable rows", "Window (raw)", "Window", "Fraction"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for _, p := range points {
		fraction := "-"
		if p.UsableRows > 0 {
			fraction = fmt.Sprintf("%.3f", float64(p.Desired)/float64(p.UsableRows))
		}

		tbl.AppendRow(table.Row{
			humanize.Comma(p.UsableRows),
			humanize.Comma(p.Raw),
			humanize.Comma(p.Desired),
			fraction,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d points", len(points))})

	return tbl.Render() + "\n"
}

func curveChart(points []window.Point) *charts.Line {
	labels := make([]string, len(points))
	desired := make([]opts.LineData, len(points))
	rows := make([]opts.LineData, len(points))

	for i, p := range points {
		labels[i] = humanize.Comma(p.UsableRows)
		desired[i] = opts.LineData{Value: p.Desired}
		rows[i] = opts.LineData{Value: p.UsableRows}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Shuffle window size", Subtitle: "desired window vs usable rows"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Usable rows"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Rows"}),
	)
	line.SetXAxis(labels)
	line.AddSeries("Window", desired,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}),
	)
	line.AddSeries("All rows", rows,
		charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dashed"}),
	)

	return line
}
