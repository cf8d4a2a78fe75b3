// Package catalog discovers self-play data files, merges them with the
// directory summary cache, applies exclusion rules, and aggregates the row
// totals the window model and readiness gate work from.
package catalog

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/shufflegate/pkg/rowcount"
)

// FileRecord is one data file. Rows is meaningful only when Known is true.
type FileRecord struct {
	Path    string
	ModTime time.Time
	Rows    int64
	Known   bool
}

// Catalog is an ordered sequence of data files.
type Catalog []FileRecord

// SortByModTime orders the catalog oldest first, keeping discovery order for ties.
func (c Catalog) SortByModTime() {
	slices.SortStableFunc(c, func(a, b FileRecord) int {
		return a.ModTime.Compare(b.ModTime)
	})
}

// MostRecentFirst returns a reversed copy of an oldest-first catalog.
func (c Catalog) MostRecentFirst() Catalog {
	out := slices.Clone(c)
	slices.Reverse(out)

	return out
}

// UnknownPaths lists the files whose row count still has to be resolved.
func (c Catalog) UnknownPaths() []string {
	var paths []string

	for _, rec := range c {
		if !rec.Known {
			paths = append(paths, rec.Path)
		}
	}

	return paths
}

// ApplyRowCounts fills unknown row counts from results. Files whose count
// could not be resolved are dropped with a warning; dropped is their number.
func (c Catalog) ApplyRowCounts(results map[string]rowcount.Result, logger *slog.Logger) (resolved Catalog, dropped int) {
	resolved = make(Catalog, 0, len(c))

	for _, rec := range c {
		if rec.Known {
			resolved = append(resolved, rec)

			continue
		}

		res, ok := results[rec.Path]

		switch {
		case !ok:
			logger.Warn("skipping file without row count result", "path", rec.Path)
		case !res.OK():
			logger.Warn("skipping bad file", "path", rec.Path, "error", res.Err)
		default:
			rec.Rows = res.Rows
			rec.Known = true
			resolved = append(resolved, rec)

			continue
		}

		dropped++
	}

	return resolved, dropped
}

// Newest returns the most recent modification time in the catalog.
func (c Catalog) Newest() time.Time {
	if len(c) == 0 {
		return time.Time{}
	}

	return slices.MaxFunc(c, func(a, b FileRecord) int { return cmp.Compare(a.ModTime.UnixNano(), b.ModTime.UnixNano()) }).ModTime
}

// Stats counts what the builder saw while discovering files.
type Stats struct {
	// Files is the number of files accepted into the catalog.
	Files int `json:"files"           yaml:"files"`
	// UnknownRows is the number of accepted files that need a row count.
	UnknownRows int `json:"unknown_rows"    yaml:"unknown_rows"`
	// Excluded is the total number of files rejected for any reason below.
	Excluded int `json:"excluded"        yaml:"excluded"`
	// TempLike counts files whose name looks like an in-progress temporary.
	TempLike int `json:"temp_like"       yaml:"temp_like"`
	// ExcludeList counts files matched by the exclude list.
	ExcludeList int `json:"exclude_list"    yaml:"exclude_list"`
	// Rowless counts summary entries without a row count.
	Rowless int `json:"rowless"         yaml:"rowless"`
	// Malformed counts summary entries that could not be decoded.
	Malformed int `json:"malformed"       yaml:"malformed"`
	// Unreadable counts files and directories skipped on stat or read errors.
	Unreadable int `json:"unreadable"      yaml:"unreadable"`
	// SummaryDirs counts directories whose listing came from the summary cache.
	SummaryDirs int `json:"summary_dirs"    yaml:"summary_dirs"`
}
