// Package batch extracts many documents at once. Results always line up
// with the inputs; one failed item never fails the batch.
package batch

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
)

// Outcome is one item's result or error, before flattening.
type Outcome struct {
	Result extract.Result
	Err    error
}

// Flatten turns the outcome into a result, rendering errors the way batch
// callers see them.
func (o Outcome) Flatten(mimeType string) extract.Result {
	if o.Err == nil {
		return o.Result
	}
	return extract.FailedResult(o.Err, mimeType)
}

type Coordinator struct {
	engine  *pipeline.Engine
	workers int64
	log     *slog.Logger
}

type Option func(*Coordinator)

// WithWorkers bounds how many items BatchAsync extracts at once.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = int64(n)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func New(engine *pipeline.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{engine: engine, workers: int64(runtime.NumCPU())}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logger.With("component", "batch")
	}
	return c
}

// prepare validates the shared configuration and applies it to items that
// carry none. It is the only source of a call-level error.
func (c *Coordinator) prepare(reqs []pipeline.Request, shared *config.ExtractionConfig) ([]pipeline.Request, error) {
	if shared != nil {
		if err := shared.Validate(); err != nil {
			return nil, &extract.Error{Kind: extract.KindValidation, Message: "invalid batch configuration", Cause: err}
		}
	}
	out := make([]pipeline.Request, len(reqs))
	for i, r := range reqs {
		if r.Config == nil && shared != nil {
			r.Config = shared
		}
		out[i] = r
	}
	return out, nil
}

// Batch extracts reqs one after another on the calling goroutine.
func (c *Coordinator) Batch(ctx context.Context, reqs []pipeline.Request, shared *config.ExtractionConfig) ([]extract.Result, error) {
	reqs, err := c.prepare(reqs, shared)
	if err != nil {
		return nil, err
	}
	results := make([]extract.Result, len(reqs))
	for i, r := range reqs {
		results[i] = c.one(ctx, i, r)
	}
	return results, nil
}

// Future is the pending outcome of BatchAsync.
type Future struct {
	done    chan struct{}
	results []extract.Result
	err     error
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until every item finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) ([]extract.Result, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, extract.Timeout("batch result", ctx.Err())
	}
}

// BatchAsync extracts reqs concurrently, at most the configured number of
// workers at a time. Its results equal what Batch returns for the same
// inputs.
func (c *Coordinator) BatchAsync(ctx context.Context, reqs []pipeline.Request, shared *config.ExtractionConfig) *Future {
	f := &Future{done: make(chan struct{})}
	prepared, err := c.prepare(reqs, shared)
	if err != nil {
		f.err = err
		close(f.done)
		return f
	}

	go func() {
		defer close(f.done)
		f.results = c.run(ctx, prepared)
	}()
	return f
}

func (c *Coordinator) run(ctx context.Context, reqs []pipeline.Request) []extract.Result {
	results := make([]extract.Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(c.workers)
	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = Outcome{Err: extract.Timeout("batch item started", err)}.Flatten(r.MIMEType)
				return
			}
			defer sem.Release(1)
			results[i] = c.one(ctx, i, r)
		}()
	}
	wg.Wait()
	return results
}

func (c *Coordinator) one(ctx context.Context, idx int, r pipeline.Request) extract.Result {
	res, err := c.engine.Extract(ctx, r)
	if err != nil {
		c.log.Debug("batch item failed", "index", idx, "error_type", extract.KindOf(err), "error", err)
	}
	return Outcome{Result: res, Err: err}.Flatten(r.MIMEType)
}
