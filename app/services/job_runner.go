package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when the runner refuses new work
var ErrQueueFull = errors.New("job queue is full")

// ErrRunnerStopped is returned when submitting to a stopped runner
var ErrRunnerStopped = errors.New("job runner is stopped")

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_jobs_total",
			Help: "Background jobs partitioned by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "background_job_duration_seconds",
			Help:    "Background job run time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	jobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "background_job_queue_depth",
			Help: "Background jobs waiting for a worker",
		},
	)
)

// JobTask is the unit of work handed to the runner
type JobTask func(ctx context.Context) error

// JobRunner executes export and snapshot jobs outside the request lifecycle
type JobRunner interface {
	Submit(kind, jobID string, task JobTask) error
	Stop()
}

// JobRunnerConfig sizes the worker pool
type JobRunnerConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// PondJobRunner runs jobs on a bounded pond pool with admission control
type PondJobRunner struct {
	pool      pond.Pool
	queueSize int
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	stopped bool
}

// NewJobRunner creates a runner bound to ctx; cancelling ctx aborts running jobs
func NewJobRunner(ctx context.Context, cfg JobRunnerConfig, logger *zap.Logger) (*PondJobRunner, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("job runner needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("job runner queue size must be positive, got %d", cfg.QueueSize)
	}

	pool := pond.NewPool(
		cfg.Workers,
		pond.WithQueueSize(cfg.QueueSize),
		pond.WithContext(ctx),
	)

	logger.Info("Job runner started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("timeout", cfg.Timeout))

	return &PondJobRunner{
		pool:      pool,
		queueSize: cfg.QueueSize,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

// Submit enqueues the task or rejects it with ErrQueueFull when the backlog is at capacity
func (r *PondJobRunner) Submit(kind, jobID string, task JobTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		jobsTotal.WithLabelValues(kind, "rejected").Inc()
		return ErrRunnerStopped
	}
	if r.pool.WaitingTasks() >= uint64(r.queueSize) {
		jobsTotal.WithLabelValues(kind, "rejected").Inc()
		r.logger.Warn("Job rejected, queue full",
			zap.String("kind", kind),
			zap.String("job_id", jobID),
			zap.Uint64("waiting", r.pool.WaitingTasks()))
		return ErrQueueFull
	}

	jobsTotal.WithLabelValues(kind, "submitted").Inc()
	r.pool.SubmitErr(func() error {
		jobQueueDepth.Set(float64(r.pool.WaitingTasks()))
		return r.run(kind, jobID, task)
	})
	jobQueueDepth.Set(float64(r.pool.WaitingTasks()))
	return nil
}

func (r *PondJobRunner) run(kind, jobID string, task JobTask) (err error) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
		jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			jobsTotal.WithLabelValues(kind, "failed").Inc()
			r.logger.Error("Job failed",
				zap.String("kind", kind),
				zap.String("job_id", jobID),
				zap.Error(err))
			return
		}
		jobsTotal.WithLabelValues(kind, "succeeded").Inc()
		r.logger.Info("Job finished",
			zap.String("kind", kind),
			zap.String("job_id", jobID),
			zap.Duration("took", time.Since(start)))
	}()

	return task(ctx)
}

// Stop refuses new work and waits for queued and running jobs to finish
func (r *PondJobRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("Draining job runner",
		zap.Uint64("waiting", r.pool.WaitingTasks()),
		zap.Int64("running", r.pool.RunningWorkers()))
	r.pool.StopAndWait()
	jobQueueDepth.Set(0)
	r.logger.Info("Job runner stopped",
		zap.Uint64("completed", r.pool.CompletedTasks()),
		zap.Uint64("failed", r.pool.FailedTasks()))
}
