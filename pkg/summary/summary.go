// Package summary reads the directory summary cache: a JSON document mapping
// absolute directory paths to pre-computed listings of their data files with
// modification times and row counts. The cache is a read-only hint.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Sumatoshi-tech/shufflegate/pkg/persist"
)

// ErrMalformedEntry is returned when a listing entry is not a
// [filename, mtime, rows|null] triple.
var ErrMalformedEntry = errors.New("malformed summary entry")

const entryFields = 3

// Entry is one file in a directory listing.
type Entry struct {
	Filename string
	// MTime is seconds since the Unix epoch, possibly fractional.
	MTime float64
	// Rows is nil when the producer could not count the file's rows.
	Rows *int64
}

// ModTime converts MTime to a time.Time.
func (e Entry) ModTime() time.Time {
	sec, frac := math.Modf(e.MTime)

	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// UnmarshalJSON decodes the [filename, mtime, rows|null] triple.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEntry, err)
	}

	if len(raw) != entryFields {
		return fmt.Errorf("%w: want %d fields, got %d", ErrMalformedEntry, entryFields, len(raw))
	}

	var decoded Entry

	err = json.Unmarshal(raw[0], &decoded.Filename)
	if err != nil {
		return fmt.Errorf("%w: filename: %w", ErrMalformedEntry, err)
	}

	err = json.Unmarshal(raw[1], &decoded.MTime)
	if err != nil {
		return fmt.Errorf("%w: mtime: %w", ErrMalformedEntry, err)
	}

	err = json.Unmarshal(raw[2], &decoded.Rows)
	if err != nil {
		return fmt.Errorf("%w: rows: %w", ErrMalformedEntry, err)
	}

	*e = decoded

	return nil
}

// MarshalJSON encodes the entry as a [filename, mtime, rows|null] triple.
func (e Entry) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal([]any{e.Filename, e.MTime, e.Rows})
	if err != nil {
		return nil, fmt.Errorf("marshal summary entry: %w", err)
	}

	return data, nil
}

// Directory is the cached listing of one directory.
type Directory struct {
	Entries []Entry `json:"filename_mtime_num_rowss"`
	// Malformed counts listing entries dropped while decoding.
	Malformed int `json:"-"`
}

// UnmarshalJSON decodes the listing, dropping entries that are not valid
// triples instead of failing the whole cache.
func (d *Directory) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entries []json.RawMessage `json:"filename_mtime_num_rowss"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return fmt.Errorf("summary directory: %w", err)
	}

	decoded := Directory{Entries: make([]Entry, 0, len(raw.Entries))}

	for _, msg := range raw.Entries {
		var entry Entry

		if json.Unmarshal(msg, &entry) != nil {
			decoded.Malformed++

			continue
		}

		decoded.Entries = append(decoded.Entries, entry)
	}

	*d = decoded

	return nil
}

// Index maps absolute directory paths to their cached listings.
type Index map[string]Directory

// Lookup returns the listing for an absolute directory path.
func (ix Index) Lookup(absDir string) (Directory, bool) {
	if ix == nil {
		return Directory{}, false
	}

	dir, ok := ix[absDir]

	return dir, ok
}

// Load reads the summary cache at path, retrying under policy. Files ending
// in ".lz4" are LZ4-framed JSON.
func Load(ctx context.Context, path string, policy persist.RetryPolicy, logger *slog.Logger) (Index, error) {
	codec := persist.CodecForPath(path)

	return persist.WithRetry(ctx, policy, logger, "summary file "+path, func() (Index, error) {
		var ix Index

		err := persist.ReadFile(path, codec, &ix)
		if err != nil {
			return nil, err
		}

		return ix, nil
	})
}
