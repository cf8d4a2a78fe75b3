// Package rowcount resolves row counts for many data files on a bounded pool
// of workers. Each task is independent; results are gathered only after every
// task has finished.
package rowcount

import (
	"context"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Counter returns the row count of one file.
type Counter interface {
	CountRows(path string) (int64, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(path string) (int64, error)

// CountRows implements Counter.
func (f CounterFunc) CountRows(path string) (int64, error) {
	return f(path)
}

// Result is the outcome for one file: a row count or the failure.
type Result struct {
	Rows int64
	Err  error
}

// OK reports whether the row count was resolved.
func (r Result) OK() bool {
	return r.Err == nil
}

// Pool resolves row counts with a bounded number of concurrent workers.
type Pool struct {
	counter Counter
	workers int
	tracer  trace.Tracer
}

// NewPool creates a pool of the given width. Width <= 0 uses the CPU count.
func NewPool(counter Counter, workers int) *Pool {
	if workers <= 0 {
		workers = max(1, runtime.NumCPU())
	}

	return &Pool{
		counter: counter,
		workers: workers,
		tracer:  nooptrace.NewTracerProvider().Tracer("rowcount"),
	}
}

// WithTracer sets the tracer used for the resolve span.
func (p *Pool) WithTracer(tracer trace.Tracer) *Pool {
	if tracer != nil {
		p.tracer = tracer
	}

	return p
}

// Workers returns the pool width.
func (p *Pool) Workers() int {
	return p.workers
}

// Resolve counts rows for every path. Paths whose task did not run because
// ctx ended carry ctx's error. Duplicate paths are counted once.
func (p *Pool) Resolve(ctx context.Context, paths []string) map[string]Result {
	ctx, span := p.tracer.Start(ctx, "rowcount.resolve",
		trace.WithAttributes(
			attribute.Int("rowcount.files", len(paths)),
			attribute.Int("rowcount.workers", p.workers),
		))
	defer span.End()

	results := make([]Result, len(paths))

	var group errgroup.Group

	group.SetLimit(p.workers)

	for i, path := range paths {
		if ctx.Err() != nil {
			results[i] = Result{Err: ctx.Err()}

			continue
		}

		group.Go(func() error {
			rows, err := p.counter.CountRows(path)
			results[i] = Result{Rows: rows, Err: err}

			return nil
		})
	}

	_ = group.Wait()

	byPath := make(map[string]Result, len(paths))
	failures := 0

	for i, path := range paths {
		byPath[path] = results[i]

		if results[i].Err != nil {
			failures++
		}
	}

	span.SetAttributes(attribute.Int("rowcount.failures", failures))

	return byPath
}
