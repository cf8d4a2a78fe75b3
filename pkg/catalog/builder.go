package catalog

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/shufflegate/pkg/summary"
)

// DefaultExtension is the data file extension picked up during scans.
const DefaultExtension = ".npz"

// Options configures a Builder.
type Options struct {
	// Directories are the roots to walk.
	Directories []string
	// Extension filters scanned files. Empty means DefaultExtension.
	Extension string
	// Summary is the optional directory summary cache.
	Summary summary.Index
	// Excluder is the optional exclude list.
	Excluder *Excluder
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Builder discovers data files under a set of directories.
type Builder struct {
	opts Options
}

// NewBuilder creates a builder, filling unset options with defaults.
func NewBuilder(opts Options) *Builder {
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}

	return &Builder{opts: opts}
}

// Build walks every root and returns the catalog sorted oldest first.
// Subdirectories found in the summary cache are taken from it and not walked.
// Files that cannot be read are skipped and counted, never fatal.
func (b *Builder) Build(ctx context.Context) (Catalog, Stats, error) {
	ctx, span := b.opts.Tracer.Start(ctx, "catalog.build")
	defer span.End()

	w := &walker{
		builder: b,
		visited: make(map[string]struct{}),
	}

	for _, root := range b.opts.Directories {
		err := w.walk(ctx, root)
		if err != nil {
			return nil, w.stats, err
		}
	}

	w.files.SortByModTime()
	w.stats.Files = len(w.files)
	w.stats.UnknownRows = len(w.files.UnknownPaths())

	span.SetAttributes(
		attribute.Int("catalog.files", w.stats.Files),
		attribute.Int("catalog.unknown_rows", w.stats.UnknownRows),
		attribute.Int("catalog.excluded", w.stats.Excluded),
	)

	return w.files, w.stats, nil
}

type walker struct {
	builder *Builder
	visited map[string]struct{}
	files   Catalog
	stats   Stats
}

func (w *walker) log() *slog.Logger { return w.builder.opts.Logger }

func (w *walker) walk(ctx context.Context, dir string) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.skip(dir, err)

		return nil
	}

	if _, seen := w.visited[resolved]; seen {
		return nil
	}

	w.visited[resolved] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.skip(dir, err)

		return nil
	}

	var subdirs []string

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		info, statErr := os.Stat(path)
		if statErr != nil {
			w.skip(path, statErr)

			continue
		}

		if info.IsDir() {
			if w.fromSummary(path) {
				continue
			}

			subdirs = append(subdirs, path)

			continue
		}

		w.addScanned(path, info)
	}

	for _, sub := range subdirs {
		err = w.walk(ctx, sub)
		if err != nil {
			return err
		}
	}

	return nil
}

// fromSummary adds the cached listing of dir, reporting whether one existed.
func (w *walker) fromSummary(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	listing, ok := w.builder.opts.Summary.Lookup(abs)
	if !ok {
		return false
	}

	w.stats.SummaryDirs++
	w.stats.Excluded += listing.Malformed
	w.stats.Malformed += listing.Malformed

	for _, entry := range listing.Entries {
		path := filepath.Join(dir, entry.Filename)

		if IsTempLike(entry.Filename) {
			w.stats.Excluded++
			w.stats.TempLike++

			continue
		}

		if w.builder.opts.Excluder.Excluded(path) {
			w.stats.Excluded++
			w.stats.ExcludeList++

			continue
		}

		if entry.Rows == nil {
			w.stats.Excluded++
			w.stats.Rowless++

			continue
		}

		w.files = append(w.files, FileRecord{
			Path:    path,
			ModTime: entry.ModTime(),
			Rows:    *entry.Rows,
			Known:   true,
		})
	}

	return true
}

func (w *walker) addScanned(path string, info fs.FileInfo) {
	name := info.Name()

	if !strings.HasSuffix(name, w.builder.opts.Extension) {
		return
	}

	if IsTempLike(name) {
		w.stats.Excluded++
		w.stats.TempLike++

		return
	}

	if w.builder.opts.Excluder.Excluded(path) {
		w.stats.Excluded++
		w.stats.ExcludeList++

		return
	}

	w.files = append(w.files, FileRecord{Path: path, ModTime: info.ModTime()})
}

func (w *walker) skip(path string, err error) {
	w.stats.Unreadable++

	if errors.Is(err, fs.ErrPermission) {
		w.log().Warn("skipping unreadable path", "path", path, "error", err)

		return
	}

	w.log().Debug("skipping path", "path", path, "error", err)
}
