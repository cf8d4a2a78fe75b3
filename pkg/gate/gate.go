// Package gate implements the readiness gate that decides whether enough new
// usable rows exist to trigger another training step, and advances the
// trigger threshold so that backlogs are absorbed over several iterations.
package gate

import (
	"math"

	"github.com/Sumatoshi-tech/shufflegate/pkg/checkpoint"
)

// Policy holds the gate tuning knobs.
type Policy struct {
	// MinNewRows is the number of rows required per trigger cycle.
	MinNewRows int64
	// WindowFactor scales how fast an accumulated backlog is absorbed.
	WindowFactor float64
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	// Ready is true when the caller should persist Next and stop polling.
	Ready bool
	// UsableRows is the row count the decision was made on.
	UsableRows int64
	// ExpectRows is the threshold that was in force.
	ExpectRows int64
	// DesiredWindow is the clamped window size the decision was made on.
	DesiredWindow int64
	// Next is the record to persist. Equal to the input record when not ready.
	Next checkpoint.Record
	// WindowRate is the backlog correction rate; zero when no correction applied.
	WindowRate float64
	// CarriedRows is the number of extra rows the correction moved the
	// threshold by, floor(WindowRate*MinNewRows).
	CarriedRows int64
}

// Missing returns how many usable rows are still needed before the gate opens.
func (d Decision) Missing() int64 {
	return max(d.ExpectRows-d.UsableRows, 0)
}

// CarriedPercent returns the correction rate as a percentage rounded to 0.1.
func (d Decision) CarriedPercent() float64 {
	return 0.1 * math.Round(d.WindowRate*1000)
}

// Decide compares usableRows against the record's expectation. On the ready
// branch the next expectation never falls below the current one.
func (p Policy) Decide(usableRows, desiredWindow int64, rec checkpoint.Record) Decision {
	d := Decision{
		UsableRows:    usableRows,
		ExpectRows:    rec.ExpectRows,
		DesiredWindow: desiredWindow,
		Next:          rec,
	}

	if usableRows < rec.ExpectRows {
		return d
	}

	next, rate := p.NextExpectation(usableRows, desiredWindow, rec.ExpectRows)

	d.Ready = true
	d.WindowRate = rate
	d.CarriedRows = int64(math.Floor(rate * float64(p.MinNewRows)))
	d.Next = checkpoint.Record{
		LastRows:   usableRows,
		ExpectRows: next,
		LastWindow: desiredWindow,
	}

	return d
}

// NextExpectation computes the threshold for the following trigger. The base
// requirement is MinNewRows beyond the larger of the previous expectation and
// one full window behind the current rows. When that still trails usableRows,
// the threshold advances by a further WindowFactor*backlog/window fraction of
// MinNewRows.
func (p Policy) NextExpectation(usableRows, desiredWindow, expectRows int64) (int64, float64) {
	next := max(expectRows, usableRows-desiredWindow) + p.MinNewRows
	if next >= usableRows || desiredWindow <= 0 {
		return next, 0
	}

	rate := p.WindowFactor * float64(usableRows-next) / float64(desiredWindow)
	corrected := float64(next) + rate*float64(p.MinNewRows)

	return int64(math.Floor(corrected)), rate
}
