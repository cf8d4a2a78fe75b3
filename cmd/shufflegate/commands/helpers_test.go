package commands

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
	"github.com/Sumatoshi-tech/shufflegate/pkg/rowcount"
)

// contentCounter reads the row count from the file body.
func contentCounter(string) rowcount.Counter {
	return rowcount.CounterFunc(func(path string) (int64, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}

		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	})
}

func noopObservabilityInit(_ observability.Config) (observability.Providers, error) {
	return observability.Providers{
		Shutdown: func(_ context.Context) error { return nil },
	}, nil
}

var instantSleeper = poll.SleeperFunc(func(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
})

// writeDataFiles creates one data file per entry, holding its row count.
func writeDataFiles(t *testing.T, dir string, rows map[string]int64) {
	t.Helper()

	for name, n := range rows {
		err := os.WriteFile(filepath.Join(dir, name), []byte(strconv.FormatInt(n, 10)), 0o600)
		require.NoError(t, err)
	}
}
