// Package cron runs the retention jobs that keep the fulfillment tables bounded:
// published outbox rows, finished queue jobs, expired download grants and read
// seller notifications.
package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
)

const (
	defaultTick       = 5 * time.Minute
	defaultJobTimeout = 5 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Tick is how often due jobs are checked. Jobs without their own cadence
	// run every tick.
	Tick       time.Duration
	JobTimeout time.Duration
}

// Service wakes up every tick and, holding the cluster lock, runs the jobs
// whose cadence has elapsed.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	tick       time.Duration
	jobTimeout time.Duration
	lastRun    map[string]time.Time
	now        func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	jobTimeout := params.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		tick:       tick,
		jobTimeout: jobTimeout,
		lastRun:    map[string]time.Time{},
		now:        time.Now,
	}, nil
}

// Run checks for due jobs immediately and then every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runDue(ctx); err != nil {
		s.logg.Error(ctx, "cron cycle finished with failures", err)
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runDue(ctx); err != nil {
				s.logg.Error(ctx, "cron cycle finished with failures", err)
			}
		}
	}
}

// runDue runs every job whose cadence has elapsed. The lock is only taken when
// something is due, and a failing job does not stop the ones after it.
func (s *Service) runDue(ctx context.Context) error {
	now := s.now()
	due := s.dueJobs(now)
	if len(due) == 0 {
		return nil
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !locked {
		logCtx := ctx
		if reporter, ok := s.lock.(holderReporter); ok {
			if holder, err := reporter.Holder(ctx); err == nil {
				logCtx = s.logg.WithField(ctx, "lock_holder", holder)
			}
		}
		s.logg.Debug(logCtx, "cron lock held by another instance")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	var errs error
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		s.lastRun[job.Name()] = now
		errs = multierr.Append(errs, s.runJob(ctx, job))
	}
	return errs
}

func (s *Service) dueJobs(now time.Time) []Job {
	var due []Job
	for _, job := range s.registry.Jobs() {
		last, ran := s.lastRun[job.Name()]
		if !ran || now.Sub(last) >= s.cadence(job) {
			due = append(due, job)
		}
	}
	return due
}

func (s *Service) cadence(job Job) time.Duration {
	if p, ok := job.(Periodic); ok && p.Every() > 0 {
		return p.Every()
	}
	return s.tick
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(start)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), elapsed)
	}
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(job.Name())
		}
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Info(jobCtx, "cron job completed")
	if s.metrics != nil {
		s.metrics.IncSuccess(job.Name())
	}
	return nil
}
