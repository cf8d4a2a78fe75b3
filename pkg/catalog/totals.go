package catalog

import "log/slog"

// RunTotals are the row sums of one iteration.
type RunTotals struct {
	// TotalRows counts every positive row count, random or not.
	TotalRows int64 `json:"total_rows"         yaml:"total_rows"`
	// RandomRowsCapped is the random-source sum, never above minRows.
	RandomRowsCapped int64 `json:"random_rows_capped" yaml:"random_rows_capped"`
	// PostRandomRows is the uncapped sum of all other files.
	PostRandomRows int64 `json:"post_random_rows"   yaml:"post_random_rows"`
	// RandomFiles and PostRandomFiles count contributing files.
	RandomFiles     int `json:"random_files"       yaml:"random_files"`
	PostRandomFiles int `json:"post_random_files"  yaml:"post_random_files"`
	// SkippedEmpty counts files with zero or negative rows.
	SkippedEmpty int `json:"skipped_empty"      yaml:"skipped_empty"`
	// SkippedUnknown counts files whose rows were never resolved.
	SkippedUnknown int `json:"skipped_unknown"    yaml:"skipped_unknown"`
}

// UsableRows is the row count the window model and the gate work from.
func (t RunTotals) UsableRows() int64 {
	return t.RandomRowsCapped + t.PostRandomRows
}

// Aggregate sums the catalog. Random-source rows stop counting toward usable
// rows once their running sum reaches minRows; they still count in TotalRows.
func Aggregate(c Catalog, minRows int64, cls Classifier, logger *slog.Logger) RunTotals {
	var totals RunTotals

	for _, rec := range c {
		if !rec.Known {
			totals.SkippedUnknown++

			if logger != nil {
				logger.Warn("skipping bad file", "path", rec.Path)
			}

			continue
		}

		if rec.Rows <= 0 {
			totals.SkippedEmpty++

			continue
		}

		totals.TotalRows += rec.Rows

		if cls.IsRandom(rec.Path) {
			totals.RandomRowsCapped = min(totals.RandomRowsCapped+rec.Rows, minRows)
			totals.RandomFiles++

			continue
		}

		totals.PostRandomRows += rec.Rows
		totals.PostRandomFiles++
	}

	return totals
}
