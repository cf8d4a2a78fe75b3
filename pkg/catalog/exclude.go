package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/shufflegate/pkg/persist"
)

// Excluder decides whether a data file is on the exclude list. The same rule
// applies to files listed by the summary cache and to files found on disk.
type Excluder struct {
	paths      map[string]struct{}
	basenames  map[string]struct{}
	byBasename bool
}

// NewExcluder builds an excluder from exclude-list lines. Each line is
// prefixed with prefix to form a full path. With byBasename a file matches
// when its base name equals the base name of any listed path.
func NewExcluder(lines []string, prefix string, byBasename bool) *Excluder {
	e := &Excluder{
		paths:      make(map[string]struct{}, len(lines)),
		basenames:  make(map[string]struct{}, len(lines)),
		byBasename: byBasename,
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		full := filepath.Clean(prefix + line)
		e.paths[full] = struct{}{}
		e.basenames[filepath.Base(full)] = struct{}{}
	}

	return e
}

// Len returns the number of listed paths.
func (e *Excluder) Len() int {
	if e == nil {
		return 0
	}

	return len(e.paths)
}

// Excluded reports whether the file at path is listed. A nil Excluder
// excludes nothing.
func (e *Excluder) Excluded(path string) bool {
	if e == nil || len(e.paths) == 0 {
		return false
	}

	if e.byBasename {
		_, ok := e.basenames[filepath.Base(path)]

		return ok
	}

	_, ok := e.paths[filepath.Clean(path)]

	return ok
}

// ReadExcludeLines returns the non-blank trimmed lines of r.
func ReadExcludeLines(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read exclude list: %w", err)
	}

	return lines, nil
}

// LoadExcluder reads the exclude list at path, retrying under policy.
func LoadExcluder(
	ctx context.Context,
	path, prefix string,
	byBasename bool,
	policy persist.RetryPolicy,
	logger *slog.Logger,
) (*Excluder, error) {
	lines, err := persist.WithRetry(ctx, policy, logger, "exclude list "+path, func() ([]string, error) {
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open exclude list: %w", openErr)
		}
		defer f.Close()

		return ReadExcludeLines(f)
	})
	if err != nil {
		return nil, err
	}

	return NewExcluder(lines, prefix, byBasename), nil
}
