// Package scheduler drives the two anchoring cycles on cron cadences. The
// scheduler owns its job registrations explicitly: configured at process
// start, torn down on shutdown, no ambient global timers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultJobTimeout = 10 * time.Minute

var (
	// ErrInvalidSchedulerConfig indicates a missing job or cron expression.
	ErrInvalidSchedulerConfig = errors.New("scheduler: invalid config")

	errMissingBatchJob     = errors.New("batch job is required")
	errMissingReconcileJob = errors.New("reconcile job is required")
)

// Job is a single cycle invocation. A run gets a fresh bounded context; there
// is no cancellation of an in-flight run beyond that bound.
type Job func(ctx context.Context) error

// Config bundles the two recurring jobs and their cron expressions.
type Config struct {
	BatchSchedule     string
	ReconcileSchedule string
	BatchJob          Job
	ReconcileJob      Job
	JobTimeout        time.Duration
	Logger            *zap.Logger
}

// Scheduler owns the cron runner and the two named job registrations.
type Scheduler struct {
	runner     *cron.Cron
	logger     *zap.Logger
	jobTimeout time.Duration
	batchID    cron.EntryID
	verifyID   cron.EntryID
}

// New validates the configuration and registers both jobs. Each job is
// wrapped in a skip-if-running guard so overlapping invocations of the same
// cycle cannot double-claim documents, and in a panic recovery so one failing
// run never prevents the next firing.
func New(cfg Config) (*Scheduler, error) {
	if cfg.BatchJob == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedulerConfig, errMissingBatchJob)
	}
	if cfg.ReconcileJob == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedulerConfig, errMissingReconcileJob)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	cronLogger := &zapCronLogger{logger: logger.Named("cron")}
	runner := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	scheduler := &Scheduler{
		runner:     runner,
		logger:     logger,
		jobTimeout: jobTimeout,
	}

	batchID, err := runner.AddFunc(cfg.BatchSchedule, func() {
		scheduler.runJob("anchor-batch", scheduler.batchID, cfg.BatchJob)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: batch schedule %q: %v", ErrInvalidSchedulerConfig, cfg.BatchSchedule, err)
	}
	scheduler.batchID = batchID

	verifyID, err := runner.AddFunc(cfg.ReconcileSchedule, func() {
		scheduler.runJob("anchor-verify", scheduler.verifyID, cfg.ReconcileJob)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile schedule %q: %v", ErrInvalidSchedulerConfig, cfg.ReconcileSchedule, err)
	}
	scheduler.verifyID = verifyID

	logger.Info("scheduler configured",
		zap.String("batch_schedule", cfg.BatchSchedule),
		zap.String("reconcile_schedule", cfg.ReconcileSchedule))
	return scheduler, nil
}

// Start begins firing jobs on their cadences.
func (s *Scheduler) Start() {
	s.runner.Start()
}

// Stop halts future firings and waits for in-flight jobs to finish, bounded
// by the provided context.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.runner.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(name string, entryID cron.EntryID, job Job) {
	s.logger.Info("scheduled job started", zap.String("job", name))
	startedAt := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	err := job(ctx)
	elapsed := time.Since(startedAt)
	next := s.runner.Entry(entryID).Next

	if err != nil {
		s.logger.Error("scheduled job ended due to error",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed),
			zap.Time("next_run", next),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled job ended",
		zap.String("job", name),
		zap.Duration("elapsed", elapsed),
		zap.Time("next_run", next))
}

// zapCronLogger adapts zap to the cron.Logger interface.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, zap.Any("details", keysAndValues))
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
