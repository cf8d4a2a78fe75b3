// Package poll runs the gate loop: each iteration rebuilds the data catalog,
// resolves row counts, evaluates the window model and the readiness gate,
// and either sleeps or persists the next checkpoint and returns.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/shufflegate/pkg/catalog"
	"github.com/Sumatoshi-tech/shufflegate/pkg/checkpoint"
	"github.com/Sumatoshi-tech/shufflegate/pkg/gate"
	"github.com/Sumatoshi-tech/shufflegate/pkg/ledger"
	"github.com/Sumatoshi-tech/shufflegate/pkg/observability"
	"github.com/Sumatoshi-tech/shufflegate/pkg/persist"
	"github.com/Sumatoshi-tech/shufflegate/pkg/rowcount"
	"github.com/Sumatoshi-tech/shufflegate/pkg/summary"
	"github.com/Sumatoshi-tech/shufflegate/pkg/window"
)

// Outcome classifies one iteration.
type Outcome string

// Iteration outcomes.
const (
	OutcomeNoRows        Outcome = "no_rows"
	OutcomeNotEnoughRows Outcome = "not_enough_rows"
	OutcomeWaiting       Outcome = "waiting"
	OutcomeReady         Outcome = "ready"
)

// Errors returned by New for missing required dependencies.
var (
	ErrMissingStore   = errors.New("poll: checkpoint store is required")
	ErrMissingCounter = errors.New("poll: row counter is required")
)

// Config is the loop configuration.
type Config struct {
	Directories []string
	Window      window.Params
	Gate        gate.Policy
	// DeferFirstTrigger makes a missing checkpoint wait for MinNewRows new rows.
	DeferFirstTrigger bool
	// CheckWait is the pause between iterations that did not trigger.
	CheckWait time.Duration
	// SettleDelay is waited between discovering files and reading them.
	SettleDelay time.Duration

	SummaryFile     string
	ExcludeFile     string
	ExcludePrefix   string
	ExcludeBasename bool
	RandomMarkers   []string
	Extension       string
	Workers         int
	LoadPolicy      persist.RetryPolicy

	// ReferenceRowsPerSecond is the baseline for the relative speed diagnostic.
	ReferenceRowsPerSecond float64
}

// TriggerLog records ready decisions.
type TriggerLog interface {
	Append(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Deps are the collaborators of a Loop. Only Counter and Store are required.
type Deps struct {
	Counter      rowcount.Counter
	Store        *checkpoint.Store
	Triggers     TriggerLog
	Sleeper      Sleeper
	Now          func() time.Time
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Metrics      *observability.GateMetrics
	InvocationID string
}

// Iteration is everything one pass computed.
type Iteration struct {
	Outcome       Outcome            `json:"outcome"                yaml:"outcome"`
	Stats         catalog.Stats      `json:"catalog"                yaml:"catalog"`
	Dropped       int                `json:"dropped"                yaml:"dropped"`
	Totals        catalog.RunTotals  `json:"totals"                 yaml:"totals"`
	MinRows       int64              `json:"min_rows"               yaml:"min_rows"`
	DesiredWindow int64              `json:"desired_window"         yaml:"desired_window"`
	Record        checkpoint.Record  `json:"checkpoint"             yaml:"checkpoint"`
	RecordFound   bool               `json:"checkpoint_found"       yaml:"checkpoint_found"`
	Decision      gate.Decision      `json:"-"                      yaml:"-"`
	Next          *checkpoint.Record `json:"next_checkpoint,omitempty" yaml:"next_checkpoint,omitempty"`
	Missing       int64              `json:"missing_rows"           yaml:"missing_rows"`
	CarriedRows   int64              `json:"carried_rows"           yaml:"carried_rows"`
	Duration      time.Duration      `json:"duration"               yaml:"duration"`
}

// Ready reports whether the gate opened.
func (it Iteration) Ready() bool {
	return it.Outcome == OutcomeReady
}

// Loop is the gate poll loop.
type Loop struct {
	cfg        Config
	deps       Deps
	throughput gate.Throughput
	// initial pins the default record until a checkpoint is first saved.
	initial *checkpoint.Record
}

// New creates a loop, filling optional dependencies with defaults.
func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.Store == nil {
		return nil, ErrMissingStore
	}

	if deps.Counter == nil {
		return nil, ErrMissingCounter
	}

	if deps.Sleeper == nil {
		deps.Sleeper = TimerSleeper{}
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}

	return &Loop{cfg: cfg, deps: deps}, nil
}

// Run iterates until the gate opens, returning the ready iteration. It
// returns ctx.Err() when canceled; the checkpoint is then left as it was.
func (l *Loop) Run(ctx context.Context) (Iteration, error) {
	for {
		it, err := l.Step(ctx)
		if err != nil {
			return it, err
		}

		if it.Ready() {
			return it, nil
		}

		err = l.deps.Sleeper.Sleep(ctx, l.cfg.CheckWait)
		if err != nil {
			return it, fmt.Errorf("wait for next poll: %w", err)
		}
	}
}

// Step runs one iteration with the settle delay. On the ready branch it
// persists the next checkpoint and records the trigger.
func (l *Loop) Step(ctx context.Context) (Iteration, error) {
	log := l.deps.Logger

	it, err := l.evaluate(ctx, true)
	if err != nil {
		return it, err
	}

	switch it.Outcome {
	case OutcomeNoRows:
		log.InfoContext(ctx, "no rows found")
	case OutcomeNotEnoughRows:
		log.InfoContext(ctx, "not enough rows",
			"total_rows", it.Totals.TotalRows,
			"min_rows", it.MinRows,
			"summary", humanize.Comma(it.Totals.TotalRows)+" < "+humanize.Comma(it.MinRows),
		)
	case OutcomeWaiting:
		l.logWaiting(ctx, it)
	case OutcomeReady:
		err = l.trigger(ctx, it)
		if err != nil {
			return it, err
		}
	}

	l.deps.Metrics.RecordIteration(ctx, observability.GateSnapshot{
		Outcome:       string(it.Outcome),
		UsableRows:    it.Totals.UsableRows(),
		TotalRows:     it.Totals.TotalRows,
		ExpectRows:    it.Record.ExpectRows,
		DesiredWindow: it.DesiredWindow,
		Duration:      it.Duration,
	})

	return it, nil
}

// Evaluate runs one read-only iteration without the settle delay. Nothing is
// written.
func (l *Loop) Evaluate(ctx context.Context) (Iteration, error) {
	return l.evaluate(ctx, false)
}

func (l *Loop) evaluate(ctx context.Context, settle bool) (Iteration, error) {
	start := l.deps.Now()

	ctx, span := l.deps.Tracer.Start(ctx, "poll.iteration")
	defer span.End()

	it, err := l.compute(ctx, settle)
	it.Duration = l.deps.Now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return it, err
	}

	span.SetAttributes(
		attribute.String("poll.outcome", string(it.Outcome)),
		attribute.Int64("poll.usable_rows", it.Totals.UsableRows()),
		attribute.Int64("poll.desired_window", it.DesiredWindow),
	)

	return it, nil
}

func (l *Loop) compute(ctx context.Context, settle bool) (Iteration, error) {
	it := Iteration{MinRows: l.cfg.Window.MinRows}

	cat, err := l.discover(ctx, &it)
	if err != nil {
		return it, err
	}

	if settle && len(cat) > 0 && l.cfg.SettleDelay > 0 {
		err = l.deps.Sleeper.Sleep(ctx, l.cfg.SettleDelay)
		if err != nil {
			return it, fmt.Errorf("settle: %w", err)
		}
	}

	err = l.timed(ctx, "computing rows", func() error {
		results := rowcount.NewPool(l.deps.Counter, l.cfg.Workers).
			WithTracer(l.deps.Tracer).
			Resolve(ctx, cat.UnknownPaths())

		var dropped int

		cat, dropped = cat.ApplyRowCounts(results, l.deps.Logger)
		it.Dropped = dropped
		it.Stats.Excluded += dropped
		l.deps.Metrics.RecordRowcountFailures(ctx, dropped)

		return ctx.Err()
	})
	if err != nil {
		return it, err
	}

	it.Totals = catalog.Aggregate(cat, l.cfg.Window.MinRows, catalog.NewClassifier(l.cfg.RandomMarkers), l.deps.Logger)

	usable := it.Totals.UsableRows()
	it.DesiredWindow = l.cfg.Window.Desired(usable)

	l.deps.Logger.InfoContext(ctx, "computed rows",
		"total_rows", it.Totals.TotalRows,
		"usable_rows", usable,
		"random_rows", it.Totals.RandomRowsCapped,
		"post_random_rows", it.Totals.PostRandomRows,
		"desired_window", it.DesiredWindow,
	)

	switch {
	case it.Totals.TotalRows <= 0:
		it.Outcome = OutcomeNoRows

		return it, nil
	case it.Totals.TotalRows < l.cfg.Window.MinRows:
		it.Outcome = OutcomeNotEnoughRows

		return it, nil
	}

	rec, found, err := l.deps.Store.LoadOrDefault(usable, it.DesiredWindow, l.cfg.Gate.MinNewRows, l.cfg.DeferFirstTrigger)
	if err != nil {
		return it, err
	}

	if !found {
		if l.initial == nil {
			l.initial = &rec
		}

		rec = *l.initial
	}

	it.Record = rec
	it.RecordFound = found
	it.Decision = l.cfg.Gate.Decide(usable, it.DesiredWindow, rec)
	it.Missing = it.Decision.Missing()
	it.Outcome = OutcomeWaiting

	if it.Decision.Ready {
		it.Outcome = OutcomeReady
		it.CarriedRows = it.Decision.CarriedRows
		next := it.Decision.Next
		it.Next = &next
	}

	return it, nil
}

// discover loads the summary cache and exclude list, then walks the directories.
func (l *Loop) discover(ctx context.Context, it *Iteration) (catalog.Catalog, error) {
	log := l.deps.Logger

	var ix summary.Index

	if l.cfg.SummaryFile != "" {
		err := l.timed(ctx, "loading summary", func() error {
			var err error

			ix, err = summary.Load(ctx, l.cfg.SummaryFile, l.cfg.LoadPolicy, log)

			return err
		})
		if err != nil {
			return nil, err
		}
	}

	var excluder *catalog.Excluder

	if l.cfg.ExcludeFile != "" {
		err := l.timed(ctx, "loading exclude list", func() error {
			var err error

			excluder, err = catalog.LoadExcluder(ctx, l.cfg.ExcludeFile, l.cfg.ExcludePrefix,
				l.cfg.ExcludeBasename, l.cfg.LoadPolicy, log)

			return err
		})
		if err != nil {
			return nil, err
		}

		log.InfoContext(ctx, "loaded exclude list", "entries", excluder.Len())
	}

	var cat catalog.Catalog

	err := l.timed(ctx, "finding files", func() error {
		var err error

		cat, it.Stats, err = catalog.NewBuilder(catalog.Options{
			Directories: l.cfg.Directories,
			Extension:   l.cfg.Extension,
			Summary:     ix,
			Excluder:    excluder,
			Logger:      log,
			Tracer:      l.deps.Tracer,
		}).Build(ctx)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find files: %w", err)
	}

	log.InfoContext(ctx, "found files",
		"files", it.Stats.Files,
		"without_row_count", it.Stats.UnknownRows,
		"excluded", it.Stats.Excluded,
		"temp_like", it.Stats.TempLike,
		"exclude_list", it.Stats.ExcludeList,
		"rowless", it.Stats.Rowless,
		"malformed", it.Stats.Malformed,
	)

	return cat, nil
}

func (l *Loop) trigger(ctx context.Context, it Iteration) error {
	log := l.deps.Logger
	d := it.Decision

	if d.WindowRate > 0 {
		log.InfoContext(ctx, "too many new rows, moving extra rows",
			"carried_rows", d.CarriedRows,
			"carried_percent", d.CarriedPercent(),
		)
	}

	err := l.deps.Store.Save(d.Next)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "found enough rows",
		"usable_rows", d.UsableRows,
		"expect_rows", d.ExpectRows,
		"next_expect_rows", d.Next.ExpectRows,
		"desired_window", d.DesiredWindow,
		"summary", humanize.Comma(d.UsableRows)+" >= "+humanize.Comma(d.ExpectRows),
	)

	if l.deps.Triggers == nil {
		return nil
	}

	_, err = l.deps.Triggers.Append(ctx, ledger.Entry{
		InvocationID:  l.deps.InvocationID,
		TriggeredAt:   l.deps.Now(),
		TotalRows:     it.Totals.TotalRows,
		UsableRows:    d.UsableRows,
		ExpectBefore:  d.ExpectRows,
		ExpectAfter:   d.Next.ExpectRows,
		DesiredWindow: d.DesiredWindow,
		CarriedRows:   d.CarriedRows,
	})
	if err != nil {
		log.WarnContext(ctx, "failed to record trigger", "error", err)
	}

	return nil
}

func (l *Loop) logWaiting(ctx context.Context, it Iteration) {
	log := l.deps.Logger
	usable := it.Totals.UsableRows()

	log.InfoContext(ctx, "waiting for new rows",
		"usable_rows", usable,
		"expect_rows", it.Record.ExpectRows,
		"missing_rows", it.Missing,
		"summary", humanize.Comma(usable)+" / "+humanize.Comma(it.Record.ExpectRows),
	)

	sample, ok := l.throughput.Observe(usable, l.deps.Now())
	if !ok {
		return
	}

	log.InfoContext(ctx, "new rows since last poll",
		"new_rows", sample.NewRows,
		"elapsed", sample.Elapsed.Round(time.Second),
		"rows_per_second", sample.RowsPerSecond,
		"relative_speed", sample.Relative(l.cfg.ReferenceRowsPerSecond),
	)
}

func (l *Loop) timed(ctx context.Context, task string, fn func() error) error {
	start := l.deps.Now()
	err := fn()

	l.deps.Logger.InfoContext(ctx, "finished "+task, "elapsed", l.deps.Now().Sub(start))

	return err
}
