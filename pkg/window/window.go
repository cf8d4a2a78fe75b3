// Package window implements the power-law window model that maps the number of
// usable training rows produced so far to the number of most-recent rows the
// next training step should sample from.
package window

import (
	"math"
)

// Params holds the configuration of the window model.
type Params struct {
	// MinRows is the floor for usable rows and the anchor of the curve.
	MinRows int64
	// MaxRows is the upper clamp of the desired window. Zero means unbounded.
	MaxRows int64
	// ExpandWindowPerRow is the slope of the curve at MinRows.
	ExpandWindowPerRow float64
	// TaperWindowExponent is the asymptotic power-law exponent.
	TaperWindowExponent float64
	// TaperWindowScale overrides the taper offset. Zero means MinRows.
	TaperWindowScale float64
	// AddToDataRows shifts the row count before the model is applied.
	AddToDataRows float64
}

// TaperOffset returns the point on the power-law tail the curve is anchored to.
func (p Params) TaperOffset() float64 {
	if p.TaperWindowScale > 0 {
		return p.TaperWindowScale
	}

	return float64(p.MinRows)
}

// DesiredSize evaluates the power-law curve f with f(minRows) = minRows and
// f'(minRows) = expandWindowPerRow. The result is not clamped.
func DesiredSize(
	usableRows, minRows int64,
	addToDataRows, taperWindowExponent, expandWindowPerRow, windowTaperOffset float64,
) int64 {
	// Every usable row beyond minRows moves one row past the taper offset.
	x := float64(usableRows-minRows) + windowTaperOffset + addToDataRows
	if x < 0 {
		x = 0
	}

	unscaled := math.Pow(x, taperWindowExponent) - math.Pow(windowTaperOffset, taperWindowExponent)
	scaled := unscaled / (taperWindowExponent * math.Pow(windowTaperOffset, taperWindowExponent-1))

	return int64(math.Floor(scaled*expandWindowPerRow + float64(minRows)))
}

// Raw evaluates the model for the given usable row count without clamping.
func (p Params) Raw(usableRows int64) int64 {
	return DesiredSize(
		usableRows,
		p.MinRows,
		p.AddToDataRows,
		p.TaperWindowExponent,
		p.ExpandWindowPerRow,
		p.TaperOffset(),
	)
}

// Clamp bounds n to [MinRows, MaxRows], treating MaxRows <= 0 as unbounded.
func (p Params) Clamp(n int64) int64 {
	n = max(n, p.MinRows)

	if p.MaxRows > 0 {
		n = min(n, p.MaxRows)
	}

	return n
}

// Desired returns the clamped desired window size for usableRows.
func (p Params) Desired(usableRows int64) int64 {
	return p.Clamp(p.Raw(usableRows))
}

// Point is one sample of the window curve.
type Point struct {
	UsableRows int64 `json:"usable_rows" yaml:"usable_rows"`
	Raw        int64 `json:"raw"         yaml:"raw"`
	Desired    int64 `json:"desired"     yaml:"desired"`
}

// Curve samples the model at steps+1 evenly spaced row counts in [from, to].
func (p Params) Curve(from, to int64, steps int) []Point {
	if steps < 1 {
		steps = 1
	}

	if to < from {
		from, to = to, from
	}

	points := make([]Point, 0, steps+1)
	span := float64(to - from)

	for i := range steps + 1 {
		rows := from + int64(math.Round(span*float64(i)/float64(steps)))
		points = append(points, Point{
			UsableRows: rows,
			Raw:        p.Raw(rows),
			Desired:    p.Desired(rows),
		})
	}

	return points
}
