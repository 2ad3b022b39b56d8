package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// Outcome describes what a handler did with a job it completed.
type Outcome struct {
	Duplicate bool
}

// Handler executes one fulfillment job. Errors are classified with
// pkg/errors: retryable codes are retried with backoff, the rest dead-letter.
type Handler interface {
	Handle(ctx context.Context, job types.FulfillmentJob) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, job types.FulfillmentJob) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, job types.FulfillmentJob) (Outcome, error) {
	return f(ctx, job)
}

type PoolConfig struct {
	Workers       int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	PollInterval  time.Duration
	LeaseDuration time.Duration
	JobTimeout    time.Duration
}

func PoolConfigFrom(cfg config.QueueConfig) PoolConfig {
	return PoolConfig{
		Workers:       cfg.Workers,
		MaxAttempts:   cfg.MaxAttempts,
		BaseBackoff:   cfg.BaseBackoff,
		MaxBackoff:    cfg.MaxBackoff,
		PollInterval:  cfg.PollInterval,
		LeaseDuration: cfg.LeaseDuration,
		JobTimeout:    cfg.JobTimeout,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Minute
	}
	if c.LeaseDuration <= c.JobTimeout {
		c.LeaseDuration = 2 * c.JobTimeout
	}
	return c
}

// Pool runs Workers goroutines that claim and execute jobs.
type Pool struct {
	repo    *Repository
	handler Handler
	cfg     PoolConfig
	metrics *metrics.QueueMetrics
	logg    *logger.Logger
	now     func() time.Time
	jitter  func(time.Duration) time.Duration
	prefix  string
}

func NewPool(repo *Repository, handler Handler, cfg PoolConfig, m *metrics.QueueMetrics, logg *logger.Logger) (*Pool, error) {
	if repo == nil {
		return nil, errors.New("queue repository required")
	}
	if handler == nil {
		return nil, errors.New("job handler required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Pool{
		repo:    repo,
		handler: handler,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logg:    logg,
		now:     nowUTC,
		jitter:  defaultJitter,
		prefix:  fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}, nil
}

// Run blocks until ctx is canceled and every in-flight job has finished.
// Cancellation stops claiming only; a running job keeps its own deadline.
func (p *Pool) Run(ctx context.Context) error {
	p.logg.Info(p.logg.WithField(ctx, "workers", p.cfg.Workers), "fulfillment worker pool starting")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.prefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Wait()

	p.logg.Info(ctx, "fulfillment worker pool stopped")
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	workerCtx := p.logg.WithField(ctx, "worker_id", workerID)
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.processNext(workerCtx, workerID)
		if err != nil {
			p.logg.Error(workerCtx, "fulfillment worker iteration failed", err)
		}
		if processed && err == nil {
			continue
		}
		timer := time.NewTimer(p.jitter(p.cfg.PollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// processNext claims and executes at most one job. It reports whether a job
// was claimed.
func (p *Pool) processNext(ctx context.Context, workerID string) (bool, error) {
	now := p.now()
	abandoned, err := p.repo.DeadLetterAbandoned(ctx, now, p.cfg.MaxAttempts)
	if err != nil {
		return false, fmt.Errorf("dead-letter abandoned jobs: %w", err)
	}
	if abandoned > 0 {
		p.logg.Error(p.logg.WithField(ctx, "jobs", abandoned), "fulfillment jobs dead-lettered after expired leases", errors.New("attempt budget exhausted"))
	}

	job, err := p.repo.ClaimNext(ctx, workerID, now, p.cfg.LeaseDuration, p.cfg.MaxAttempts)
	if err != nil {
		return false, fmt.Errorf("claim fulfillment job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	p.metrics.IncClaimed()
	return true, p.execute(ctx, workerID, job)
}

func (p *Pool) execute(ctx context.Context, workerID string, job *models.FulfillmentJob) error {
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"job_id":                job.ID.String(),
		"transaction_reference": job.TransactionReference,
		"attempt":               job.Attempts,
	})

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(logCtx), p.cfg.JobTimeout)
	started := time.Now()
	outcome, runErr := p.handler.Handle(jobCtx, job.Payload)
	cancel()
	elapsed := time.Since(started)

	// Bookkeeping must land even when the pool is shutting down.
	writeCtx := context.WithoutCancel(logCtx)

	if runErr == nil {
		ok, err := p.repo.MarkSucceeded(writeCtx, job.ID, workerID, p.now())
		if err != nil {
			return fmt.Errorf("mark job succeeded: %w", err)
		}
		if !ok {
			p.logg.Warn(logCtx, "fulfillment job lease lost before completion was recorded")
		}
		result := metrics.QueueResultSucceeded
		if outcome.Duplicate {
			result = metrics.QueueResultDuplicate
		}
		p.metrics.ObserveAttempt(result, elapsed)
		p.logg.Info(p.logg.WithField(logCtx, "duplicate", outcome.Duplicate), "fulfillment job succeeded")
		return nil
	}

	if retryable(runErr) && job.Attempts < p.cfg.MaxAttempts {
		delay := p.Backoff(job.Attempts)
		ok, err := p.repo.ScheduleRetry(writeCtx, job.ID, workerID, p.now().Add(delay), runErr)
		if err != nil {
			return fmt.Errorf("schedule job retry: %w", err)
		}
		if !ok {
			p.logg.Warn(logCtx, "fulfillment job lease lost before retry was recorded")
		}
		p.metrics.ObserveAttempt(metrics.QueueResultRetried, elapsed)
		retryCtx := p.logg.WithFields(logCtx, map[string]any{"retry_in": delay.String(), "error": runErr.Error()})
		p.logg.Warn(retryCtx, "fulfillment job failed, retry scheduled")
		return nil
	}

	ok, err := p.repo.MarkDeadLettered(writeCtx, job.ID, workerID, runErr)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	if !ok {
		p.logg.Warn(logCtx, "fulfillment job lease lost before dead-letter was recorded")
	}
	p.metrics.ObserveAttempt(metrics.QueueResultDeadLettered, elapsed)
	p.logg.Error(p.logg.WithFields(logCtx, pkgerrors.Dump(runErr).Fields()), "fulfillment job dead-lettered", runErr)
	return nil
}

// Backoff returns the delay before the next attempt after attempts tries:
// base·2^(attempts-1) capped at MaxBackoff, plus jitter.
func (p *Pool) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.cfg.BaseBackoff
	for i := 1; i < attempts && delay < p.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > p.cfg.MaxBackoff {
		delay = p.cfg.MaxBackoff
	}
	return p.jitter(delay)
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pkgerrors.IsRetryable(err)
}

// defaultJitter adds up to 20% of d.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}
