// Package scheduler runs sub-batch submission and polling in the background.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/logger"
)

// SubBatchExecutor drives one sub-batch through submission and polling
type SubBatchExecutor interface {
	Execute(ctx context.Context, sb *feed.SubBatch) error
}

// PendingResumer re-dispatches sub-batches left unfinished by a previous run
type PendingResumer interface {
	ResumePending(ctx context.Context) (int, error)
}

// FeedSchedulerConfig holds configuration for the feed scheduler
type FeedSchedulerConfig struct {
	// Workers is the number of sub-batches processed concurrently
	Workers int
	// QueueSize bounds the number of sub-batches waiting for a worker
	QueueSize int
	// JobTimeout caps one sub-batch run, submission plus polling
	JobTimeout time.Duration
	// ResumeInterval is how often non-terminal sub-batches are re-dispatched; 0 resumes only at start
	ResumeInterval time.Duration
}

// DefaultFeedSchedulerConfig returns default configuration
func DefaultFeedSchedulerConfig() FeedSchedulerConfig {
	return FeedSchedulerConfig{
		Workers:        4,
		QueueSize:      256,
		JobTimeout:     5 * time.Hour,
		ResumeInterval: 5 * time.Minute,
	}
}

// Validate validates the configuration
func (c *FeedSchedulerConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.ResumeInterval < 0 {
		return fmt.Errorf("%w: resume interval cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// FeedScheduler is a worker pool fed by a bounded queue of sub-batches.
// It implements the dispatcher used by the sync service.
type FeedScheduler struct {
	config   FeedSchedulerConfig
	executor SubBatchExecutor
	resumer  PendingResumer
	logger   *zap.Logger

	jobs      chan *feed.SubBatch
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// queued or executing, keyed by sub-batch id
	activeMu sync.Mutex
	active   map[uuid.UUID]struct{}
}

// NewFeedScheduler creates a new feed scheduler
func NewFeedScheduler(config FeedSchedulerConfig, executor SubBatchExecutor, logger *zap.Logger) (*FeedScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &FeedScheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *feed.SubBatch, config.QueueSize),
		active:   make(map[uuid.UUID]struct{}),
	}, nil
}

// SetResumer installs the component that reloads unfinished work. Call before Start.
func (s *FeedScheduler) SetResumer(r PendingResumer) {
	s.resumer = r
}

// Start starts the workers and the resume loop
func (s *FeedScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := range s.config.Workers {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	if s.resumer != nil {
		s.wg.Add(1)
		go s.resumeLoop(ctx)
	}

	s.logger.Info("feed scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit.
// Interrupted sub-batches keep their persisted state and are resumed on the next start.
func (s *FeedScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.drain()
		s.logger.Info("feed scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("feed scheduler stop timed out")
		return ctx.Err()
	}
}

// Dispatch queues a sub-batch. A sub-batch that is already queued or running is ignored.
func (s *FeedScheduler) Dispatch(_ context.Context, sb *feed.SubBatch) error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return ErrSchedulerNotRunning
	}

	s.activeMu.Lock()
	if _, ok := s.active[sb.ID]; ok {
		s.activeMu.Unlock()
		s.logger.Debug("sub-batch already scheduled", zap.String("sub_batch_id", sb.ID.String()))
		return nil
	}
	s.active[sb.ID] = struct{}{}
	s.activeMu.Unlock()

	select {
	case s.jobs <- sb:
		s.logger.Debug("sub-batch queued",
			zap.String("batch_id", sb.BatchID.String()),
			zap.String("sub_batch_id", sb.ID.String()),
			zap.String("state", string(sb.State)),
		)
		return nil
	default:
		s.done(sb.ID)
		return ErrJobQueueFull
	}
}

// Stats reports the number of queued and in-progress sub-batches
func (s *FeedScheduler) Stats() (queued, active int) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.jobs), len(s.active)
}

func (s *FeedScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sb := <-s.jobs:
			s.process(ctx, sb, workerID)
		}
	}
}

func (s *FeedScheduler) process(ctx context.Context, sb *feed.SubBatch, workerID int) {
	defer s.done(sb.ID)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()
	jobCtx, log := logger.WithBatchID(jobCtx, s.logger, sb.BatchID.String())
	jobCtx, log = logger.WithSubBatchID(jobCtx, log, sb.ID.String())
	jobCtx = logger.WithContext(jobCtx, log)

	start := time.Now()
	log.Info("processing sub-batch",
		zap.Int("worker_id", workerID),
		zap.Int("sequence", sb.Sequence),
		zap.Int("items", len(sb.Items)),
		zap.String("state", string(sb.State)),
	)

	if err := s.executor.Execute(jobCtx, sb); err != nil {
		log.Error("sub-batch processing failed",
			zap.Int("worker_id", workerID),
			zap.String("state", string(sb.State)),
			zap.Error(err),
		)
		return
	}
	log.Info("sub-batch processed",
		zap.Int("worker_id", workerID),
		zap.String("state", string(sb.State)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (s *FeedScheduler) done(id uuid.UUID) {
	s.activeMu.Lock()
	delete(s.active, id)
	s.activeMu.Unlock()
}

// drain forgets sub-batches that were queued but never picked up
func (s *FeedScheduler) drain() {
	for {
		select {
		case sb := <-s.jobs:
			s.done(sb.ID)
		default:
			return
		}
	}
}

func (s *FeedScheduler) resumeLoop(ctx context.Context) {
	defer s.wg.Done()

	s.resume(ctx)
	if s.config.ResumeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.ResumeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.resume(ctx)
		}
	}
}

func (s *FeedScheduler) resume(ctx context.Context) {
	n, err := s.resumer.ResumePending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to resume pending sub-batches", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Debug("pending sub-batches dispatched", zap.Int("count", n))
	}
}
