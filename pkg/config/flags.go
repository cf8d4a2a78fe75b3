package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"min-rows":                  "window.min_rows",
	"max-rows":                  "window.max_rows",
	"expand-window-per-row":     "window.expand_window_per_row",
	"taper-window-exponent":     "window.taper_window_exponent",
	"taper-window-scale":        "window.taper_window_scale",
	"add-to-data-rows":          keyAddToDataRows,
	"add-to-window-size":        keyAddToWindowSize,
	"min-new-rows":              "gate.min_new_rows",
	"window-factor":             "gate.window_factor",
	"check-wait-seconds":        "gate.check_wait_seconds",
	"record-file":               "gate.record_file",
	"defer-first-trigger":       "gate.defer_first_trigger",
	"reference-rows-per-second": "gate.reference_rows_per_second",
	"history-db":                "gate.history_db",
	"summary-file":              "catalog.summary_file",
	"exclude":                   "catalog.exclude",
	"exclude-prefix":            "catalog.exclude_prefix",
	"exclude-basename":          "catalog.exclude_basename",
	"num-processes":             "catalog.num_processes",
	"row-cache-entries":         "catalog.row_cache_entries",
	"log-level":                 "logging.level",
	"log-format":                "logging.format",
	"metrics-addr":              "telemetry.metrics_addr",
	"otlp-endpoint":             "telemetry.otlp_endpoint",
}

// RegisterWindowFlags adds the window model flags to fs.
func RegisterWindowFlags(fs *pflag.FlagSet) {
	fs.Int64("min-rows", DefaultMinRows, "Minimum training rows to use")
	fs.Int64("max-rows", 0, "Maximum training rows to use, 0 for unbounded")
	fs.Float64("expand-window-per-row", DefaultExpandWindowPerRow,
		"Beyond min rows, initially expand the window by this much every post-random data row")
	fs.Float64("taper-window-exponent", DefaultTaperWindowExponent,
		"Make the window size asymptotically grow as this power of the data rows")
	fs.Float64("taper-window-scale", 0, "The scale at which the power law applies, defaults to min rows")
	fs.Float64("add-to-data-rows", 0, "Compute the window size as if the number of data rows were this much larger")
	fs.Float64("add-to-window-size", 0, "Deprecated alias of --add-to-data-rows")
	_ = fs.MarkDeprecated("add-to-window-size", "use --add-to-data-rows")
}

// RegisterGateFlags adds the gate, catalog and telemetry flags to fs.
func RegisterGateFlags(fs *pflag.FlagSet) {
	fs.Int64("min-new-rows", DefaultMinNewRows, "How many new data rows are required for one training")
	fs.Float64("window-factor", DefaultWindowFactor, "How fast a backlog of too many new rows is absorbed")
	fs.Int("check-wait-seconds", DefaultCheckWaitSeconds, "How long to wait for the next check")
	fs.String("record-file", "", "Path to record last data rows number")
	fs.Bool("defer-first-trigger", false, "Without a record file, wait for min new rows before the first trigger")
	fs.Float64("reference-rows-per-second", DefaultReferenceRowsPerSecond, "Baseline for the relative speed log")
	fs.String("history-db", "", "SQLite file recording every trigger")
	fs.String("summary-file", "", "Summary json file for directory contents")
	fs.String("exclude", "", "Text file with data files to ignore, one per line")
	fs.String("exclude-prefix", "", "Prefix to concat to lines in exclude to produce the full file path")
	fs.Bool("exclude-basename", false, "Consider an exclude to match if basename matches")
	fs.Int("num-processes", 0, "Number of parallel row count readers, 0 for one per CPU")
	fs.Int("row-cache-entries", DefaultRowCacheEntries, "Remember row counts of this many unchanged files between polls, 0 to disable")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.String("otlp-endpoint", "", "OTLP gRPC collector address")
}

// RegisterLoggingFlags adds the logging flags to fs.
func RegisterLoggingFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")
}

func bindFlags(viperCfg *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}

		err := viperCfg.BindPFlag(key, flag)
		if err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}

// explicitlySet reports whether key came from the config file, the
// environment or a changed flag. Defaults do not count.
func explicitlySet(viperCfg *viper.Viper, fs *pflag.FlagSet, key string) bool {
	if viperCfg.InConfig(key) {
		return true
	}

	if _, ok := os.LookupEnv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); ok {
		return true
	}

	if fs == nil {
		return false
	}

	for name, flagKey := range flagKeys {
		if flagKey != key {
			continue
		}

		if flag := fs.Lookup(name); flag != nil && flag.Changed {
			return true
		}
	}

	return false
}
