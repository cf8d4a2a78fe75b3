package gate

import "time"

// Throughput estimates the production rate of usable rows between polls.
// It is purely diagnostic and never affects decisions.
type Throughput struct {
	lastRows int64
	lastTime time.Time
	seen     bool
}

// Sample is a throughput estimate between two observations.
type Sample struct {
	NewRows       int64
	Elapsed       time.Duration
	RowsPerSecond float64
}

// Relative returns RowsPerSecond as a multiple of reference. Zero when
// reference is not positive.
func (s Sample) Relative(reference float64) float64 {
	if reference <= 0 {
		return 0
	}

	return s.RowsPerSecond / reference
}

// Observe records rows seen at now and returns the estimate against the
// previous observation. ok is false on the first observation.
func (t *Throughput) Observe(rows int64, now time.Time) (Sample, bool) {
	prevRows, prevTime, seen := t.lastRows, t.lastTime, t.seen

	t.lastRows = rows
	t.lastTime = now
	t.seen = true

	if !seen {
		return Sample{}, false
	}

	sample := Sample{
		NewRows: rows - prevRows,
		Elapsed: now.Sub(prevTime),
	}

	if secs := sample.Elapsed.Seconds(); secs > 0 {
		sample.RowsPerSecond = float64(sample.NewRows) / secs
	}

	return sample, true
}
