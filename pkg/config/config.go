// Package config loads shufflegate configuration from defaults, an optional
// config file, SHUFFLEGATE_* environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/shufflegate/pkg/catalog"
	"github.com/Sumatoshi-tech/shufflegate/pkg/gate"
	"github.com/Sumatoshi-tech/shufflegate/pkg/npz"
	"github.com/Sumatoshi-tech/shufflegate/pkg/persist"
	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
	"github.com/Sumatoshi-tech/shufflegate/pkg/window"
)

// Sentinel validation errors.
var (
	ErrNoDirectories       = errors.New("at least one data directory is required")
	ErrInvalidMinRows      = errors.New("min rows must be positive")
	ErrInvalidMaxRows      = errors.New("max rows must be zero or at least min rows")
	ErrInvalidExponent     = errors.New("taper window exponent must be positive")
	ErrInvalidTaperScale   = errors.New("taper window scale must not be negative")
	ErrInvalidExpandRate   = errors.New("expand window per row must not be negative")
	ErrInvalidMinNewRows   = errors.New("min new rows must be positive")
	ErrInvalidWindowFactor = errors.New("window factor must not be negative")
	ErrInvalidCheckWait    = errors.New("check wait seconds must be positive")
	ErrMissingRecordFile   = errors.New("record file is required")
	ErrInvalidProcesses    = errors.New("num processes must not be negative")
	ErrInvalidRowCache     = errors.New("row cache entries must not be negative")
	ErrConflictingAddRows  = errors.New("cannot set both add-to-data-rows and the deprecated add-to-window-size")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
)

// Default configuration values.
const (
	DefaultMinRows                = 250_000
	DefaultExpandWindowPerRow     = 0.4
	DefaultTaperWindowExponent    = 0.65
	DefaultMinNewRows             = 100_000
	DefaultWindowFactor           = 1.0
	DefaultCheckWaitSeconds       = 60
	DefaultReferenceRowsPerSecond = 7.7
	DefaultSettleDelay            = 3 * time.Second
	DefaultRowCacheEntries        = 100_000

	envPrefix = "SHUFFLEGATE"

	keyAddToDataRows   = "window.add_to_data_rows"
	keyAddToWindowSize = "window.add_to_window_size"
)

// Config holds all shufflegate configuration.
type Config struct {
	Directories []string        `mapstructure:"directories"`
	Window      WindowConfig    `mapstructure:"window"`
	Gate        GateConfig      `mapstructure:"gate"`
	Catalog     CatalogConfig   `mapstructure:"catalog"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`

	// DeprecatedAddRows is set when only add_to_window_size was given; its
	// value has been moved to Window.AddToDataRows.
	DeprecatedAddRows bool `mapstructure:"-"`

	// Defaulted lists the gate tuning keys that were not configured by file,
	// environment or flag and fell back to built-in defaults.
	Defaulted []string `mapstructure:"-"`
}

// GateTuningKeys are the window and gate keys a training run is expected to
// configure explicitly.
var GateTuningKeys = []string{
	"window.min_rows",
	"window.expand_window_per_row",
	"window.taper_window_exponent",
	"gate.min_new_rows",
	"gate.window_factor",
	"gate.check_wait_seconds",
}

// WindowConfig parameterizes the window model.
type WindowConfig struct {
	MinRows             int64   `mapstructure:"min_rows"`
	MaxRows             int64   `mapstructure:"max_rows"`
	ExpandWindowPerRow  float64 `mapstructure:"expand_window_per_row"`
	TaperWindowExponent float64 `mapstructure:"taper_window_exponent"`
	TaperWindowScale    float64 `mapstructure:"taper_window_scale"`
	AddToDataRows       float64 `mapstructure:"add_to_data_rows"`
	AddToWindowSize     float64 `mapstructure:"add_to_window_size"`
}

// GateConfig parameterizes the readiness gate and the poll loop.
type GateConfig struct {
	MinNewRows             int64   `mapstructure:"min_new_rows"`
	WindowFactor           float64 `mapstructure:"window_factor"`
	CheckWaitSeconds       int     `mapstructure:"check_wait_seconds"`
	RecordFile             string  `mapstructure:"record_file"`
	DeferFirstTrigger      bool    `mapstructure:"defer_first_trigger"`
	ReferenceRowsPerSecond float64 `mapstructure:"reference_rows_per_second"`
	HistoryDB              string  `mapstructure:"history_db"`
}

// CatalogConfig controls data file discovery.
type CatalogConfig struct {
	SummaryFile     string        `mapstructure:"summary_file"`
	Exclude         string        `mapstructure:"exclude"`
	ExcludePrefix   string        `mapstructure:"exclude_prefix"`
	ExcludeBasename bool          `mapstructure:"exclude_basename"`
	NumProcesses    int           `mapstructure:"num_processes"`
	RandomMarkers   []string      `mapstructure:"random_markers"`
	Extension       string        `mapstructure:"extension"`
	RowKey          string        `mapstructure:"row_key"`
	RowCacheEntries int           `mapstructure:"row_cache_entries"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	LoadAttempts    uint          `mapstructure:"load_attempts"`
	LoadBackoff     time.Duration `mapstructure:"load_backoff"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig controls trace and metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	OTLPHeaders  string `mapstructure:"otlp_headers"`
	Environment  string `mapstructure:"environment"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

// LoadConfig merges defaults, the config file at configPath (if non-empty),
// environment variables and the flags in fs, in increasing precedence, then
// validates the window and logging sections. Command-specific checks are
// left to ValidateGate.
func LoadConfig(configPath string, fs *pflag.FlagSet) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)

		readErr := viperCfg.ReadInConfig()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	if fs != nil {
		bindErr := bindFlags(viperCfg, fs)
		if bindErr != nil {
			return nil, bindErr
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	// Unset keys are not unmarshaled from the environment, so read them directly.
	config.Window.AddToDataRows = viperCfg.GetFloat64(keyAddToDataRows)
	config.Window.AddToWindowSize = viperCfg.GetFloat64(keyAddToWindowSize)

	hasData, hasWindow := viperCfg.IsSet(keyAddToDataRows), viperCfg.IsSet(keyAddToWindowSize)

	switch {
	case hasData && hasWindow:
		return nil, fmt.Errorf("invalid configuration: %w", ErrConflictingAddRows)
	case hasWindow:
		config.Window.AddToDataRows = config.Window.AddToWindowSize
		config.DeprecatedAddRows = true
	}

	for _, key := range GateTuningKeys {
		if !explicitlySet(viperCfg, fs, key) {
			config.Defaulted = append(config.Defaulted, key)
		}
	}

	validateErr := config.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("directories", []string{})

	// Window model defaults.
	viperCfg.SetDefault("window.min_rows", DefaultMinRows)
	viperCfg.SetDefault("window.max_rows", 0)
	viperCfg.SetDefault("window.expand_window_per_row", DefaultExpandWindowPerRow)
	viperCfg.SetDefault("window.taper_window_exponent", DefaultTaperWindowExponent)
	viperCfg.SetDefault("window.taper_window_scale", 0)

	// Gate defaults.
	viperCfg.SetDefault("gate.min_new_rows", DefaultMinNewRows)
	viperCfg.SetDefault("gate.window_factor", DefaultWindowFactor)
	viperCfg.SetDefault("gate.check_wait_seconds", DefaultCheckWaitSeconds)
	viperCfg.SetDefault("gate.record_file", "")
	viperCfg.SetDefault("gate.defer_first_trigger", false)
	viperCfg.SetDefault("gate.reference_rows_per_second", DefaultReferenceRowsPerSecond)
	viperCfg.SetDefault("gate.history_db", "")

	// Catalog defaults.
	viperCfg.SetDefault("catalog.summary_file", "")
	viperCfg.SetDefault("catalog.exclude", "")
	viperCfg.SetDefault("catalog.exclude_prefix", "")
	viperCfg.SetDefault("catalog.exclude_basename", false)
	viperCfg.SetDefault("catalog.num_processes", 0)
	viperCfg.SetDefault("catalog.random_markers", catalog.DefaultRandomMarkers)
	viperCfg.SetDefault("catalog.extension", catalog.DefaultExtension)
	viperCfg.SetDefault("catalog.row_key", npz.DefaultRowKey)
	viperCfg.SetDefault("catalog.row_cache_entries", DefaultRowCacheEntries)
	viperCfg.SetDefault("catalog.settle_delay", DefaultSettleDelay)
	viperCfg.SetDefault("catalog.load_attempts", persist.DefaultAttempts)
	viperCfg.SetDefault("catalog.load_backoff", persist.DefaultDelay)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.environment", "")
	viperCfg.SetDefault("telemetry.metrics_addr", "")
}

// Validate checks the sections every command depends on.
func (c *Config) Validate() error {
	w := c.Window

	if w.MinRows <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMinRows, w.MinRows)
	}

	if w.MaxRows < 0 || (w.MaxRows > 0 && w.MaxRows < w.MinRows) {
		return fmt.Errorf("%w: %d", ErrInvalidMaxRows, w.MaxRows)
	}

	if w.TaperWindowExponent <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidExponent, w.TaperWindowExponent)
	}

	if w.TaperWindowScale < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTaperScale, w.TaperWindowScale)
	}

	if w.ExpandWindowPerRow < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidExpandRate, w.ExpandWindowPerRow)
	}

	_, err := c.Logging.SlogLevel()
	if err != nil {
		return err
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	return nil
}

// ValidateGate checks what the poll loop additionally needs.
func (c *Config) ValidateGate() error {
	if len(c.Directories) == 0 {
		return ErrNoDirectories
	}

	if c.Gate.MinNewRows <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMinNewRows, c.Gate.MinNewRows)
	}

	if c.Gate.WindowFactor < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidWindowFactor, c.Gate.WindowFactor)
	}

	if c.Gate.CheckWaitSeconds <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCheckWait, c.Gate.CheckWaitSeconds)
	}

	if c.Gate.RecordFile == "" {
		return ErrMissingRecordFile
	}

	if c.Catalog.NumProcesses < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidProcesses, c.Catalog.NumProcesses)
	}

	if c.Catalog.RowCacheEntries < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRowCache, c.Catalog.RowCacheEntries)
	}

	return nil
}

// SlogLevel parses the configured log level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// WindowParams converts the window section to model parameters.
func (c *Config) WindowParams() window.Params {
	return window.Params{
		MinRows:             c.Window.MinRows,
		MaxRows:             c.Window.MaxRows,
		ExpandWindowPerRow:  c.Window.ExpandWindowPerRow,
		TaperWindowExponent: c.Window.TaperWindowExponent,
		TaperWindowScale:    c.Window.TaperWindowScale,
		AddToDataRows:       c.Window.AddToDataRows,
	}
}

// GatePolicy converts the gate section to a readiness policy.
func (c *Config) GatePolicy() gate.Policy {
	return gate.Policy{
		MinNewRows:   c.Gate.MinNewRows,
		WindowFactor: c.Gate.WindowFactor,
	}
}

// CheckWait returns the pause between polls.
func (c *Config) CheckWait() time.Duration {
	return time.Duration(c.Gate.CheckWaitSeconds) * time.Second
}

// LoadPolicy returns the retry policy for the summary cache and exclude list.
func (c *Config) LoadPolicy() persist.RetryPolicy {
	return persist.RetryPolicy{
		Attempts: c.Catalog.LoadAttempts,
		Delay:    c.Catalog.LoadBackoff,
	}
}

// PollConfig converts the configuration to poll loop settings.
func (c *Config) PollConfig() poll.Config {
	return poll.Config{
		Directories:            c.Directories,
		Window:                 c.WindowParams(),
		Gate:                   c.GatePolicy(),
		DeferFirstTrigger:      c.Gate.DeferFirstTrigger,
		CheckWait:              c.CheckWait(),
		SettleDelay:            c.Catalog.SettleDelay,
		SummaryFile:            c.Catalog.SummaryFile,
		ExcludeFile:            c.Catalog.Exclude,
		ExcludePrefix:          c.Catalog.ExcludePrefix,
		ExcludeBasename:        c.Catalog.ExcludeBasename,
		RandomMarkers:          c.Catalog.RandomMarkers,
		Extension:              c.Catalog.Extension,
		Workers:                c.Catalog.NumProcesses,
		LoadPolicy:             c.LoadPolicy(),
		ReferenceRowsPerSecond: c.Gate.ReferenceRowsPerSecond,
	}
}
