// Package worker runs queue consumers: a fixed number of loops per topic, each
// fetching a batch, running the topic handler and settling every job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/zeke/internal/globaltime"
	"horse.fit/zeke/internal/queue"
)

const (
	DefaultConcurrency  = 2
	DefaultBatchSize    = 5
	DefaultPollInterval = 2 * time.Second
	DefaultStaleAfter   = 3 * time.Hour
	staleSweepInterval  = time.Minute
)

// Handler processes one job. The returned output is stored on the job whether it
// completes or fails.
type Handler func(ctx context.Context, job queue.Job) (map[string]any, error)

type Options struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	// StaleAfter is how long a job may stay active before it is handed out again.
	StaleAfter time.Duration
}

type Pool struct {
	queue    queue.Queue
	handlers map[string]Handler
	opts     Options
	logger   zerolog.Logger
}

func NewPool(q queue.Queue, opts Options, logger zerolog.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &Pool{
		queue:    q,
		handlers: make(map[string]Handler),
		opts:     opts,
		logger:   logger,
	}
}

// Handle registers the handler for topic, replacing any previous one.
func (p *Pool) Handle(topic string, h Handler) {
	p.handlers[topic] = h
}

// Topics lists registered topics in stable order.
func (p *Pool) Topics() []string {
	topics := make([]string, 0, len(p.handlers))
	for topic := range p.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Run blocks until ctx is cancelled or a loop fails.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range p.Topics() {
		for i := 0; i < p.opts.Concurrency; i++ {
			topic, slot := topic, i
			g.Go(func() error {
				return p.loop(gctx, topic, slot)
			})
		}
	}
	g.Go(func() error {
		return p.sweepStale(gctx)
	})

	p.logger.Info().
		Strs("topics", p.Topics()).
		Int("concurrency", p.opts.Concurrency).
		Int("batch_size", p.opts.BatchSize).
		Dur("poll_interval", p.opts.PollInterval).
		Msg("worker pool started")

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunOnce fetches and settles at most one batch of topic. It returns the number of
// jobs processed.
func (p *Pool) RunOnce(ctx context.Context, topic string) (int, error) {
	handler, ok := p.handlers[topic]
	if !ok {
		return 0, fmt.Errorf("no handler registered for topic %q", topic)
	}

	jobs, err := p.queue.FetchBatch(ctx, topic, p.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch %s batch: %w", topic, err)
	}
	for _, job := range jobs {
		p.process(ctx, handler, job)
	}
	return len(jobs), nil
}

func (p *Pool) loop(ctx context.Context, topic string, slot int) error {
	logger := p.logger.With().Str("topic", topic).Int("slot", slot).Logger()
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.RunOnce(ctx, topic)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("worker fetch failed")
		}
		if n > 0 && err == nil {
			continue
		}

		timer := time.NewTimer(p.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *Pool) sweepStale(ctx context.Context) error {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := globaltime.UTC().Add(-p.opts.StaleAfter)
			n, err := p.queue.RequeueStale(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error().Err(err).Msg("requeue stale jobs failed")
				}
				continue
			}
			if n > 0 {
				p.logger.Warn().Int("jobs", n).Msg("requeued stale active jobs")
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, handler Handler, job queue.Job) {
	logger := p.logger.With().
		Str("job_id", job.ID).
		Str("topic", job.Topic).
		Int("retry_count", job.RetryCount).
		Logger()

	started := globaltime.Now()
	output, err := p.invoke(ctx, handler, job)
	elapsed := globaltime.Since(started)

	// Settle with a fresh context so shutdown does not strand an active job.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("job failed")
		if failErr := p.queue.Fail(settleCtx, job.ID, err, output); failErr != nil {
			logger.Error().Err(failErr).Msg("mark job failed")
		}
		return
	}

	if completeErr := p.queue.Complete(settleCtx, job.ID, output); completeErr != nil {
		logger.Error().Err(completeErr).Msg("mark job completed")
		return
	}
	logger.Info().Dur("elapsed", elapsed).Msg("job completed")
}

func (p *Pool) invoke(ctx context.Context, handler Handler, job queue.Job) (output map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error().
				Str("job_id", job.ID).
				Str("stack", string(debug.Stack())).
				Msg("job handler panic recovered")
			output = nil
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return handler(ctx, job)
}
