package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/logger"
)

type fakeExecutor struct {
	mu       sync.Mutex
	executed []uuid.UUID
	batchIDs []string
	block    chan struct{}
	err      error
	calls    atomic.Int32
}

func (e *fakeExecutor) Execute(ctx context.Context, sb *feed.SubBatch) error {
	e.calls.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	e.executed = append(e.executed, sb.ID)
	e.batchIDs = append(e.batchIDs, logger.GetBatchID(ctx))
	e.mu.Unlock()
	return e.err
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

type fakeResumer struct {
	calls atomic.Int32
}

func (r *fakeResumer) ResumePending(context.Context) (int, error) {
	r.calls.Add(1)
	return 0, nil
}

func testSubBatch() *feed.SubBatch {
	return &feed.SubBatch{ID: uuid.New(), BatchID: uuid.New(), Sequence: 1, State: feed.SubBatchStateBuilt}
}

func testConfig() FeedSchedulerConfig {
	return FeedSchedulerConfig{Workers: 2, QueueSize: 4, JobTimeout: time.Second}
}

func startScheduler(t *testing.T, cfg FeedSchedulerConfig, exec SubBatchExecutor, log *zap.Logger) *FeedScheduler {
	t.Helper()
	s, err := NewFeedScheduler(cfg, exec, log)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestFeedSchedulerConfig_Validate(t *testing.T) {
	valid := DefaultFeedSchedulerConfig()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*FeedSchedulerConfig)
	}{
		{"no workers", func(c *FeedSchedulerConfig) { c.Workers = 0 }},
		{"no queue", func(c *FeedSchedulerConfig) { c.QueueSize = 0 }},
		{"no timeout", func(c *FeedSchedulerConfig) { c.JobTimeout = 0 }},
		{"negative resume interval", func(c *FeedSchedulerConfig) { c.ResumeInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFeedSchedulerConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestFeedScheduler_Dispatch(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		s, err := NewFeedScheduler(testConfig(), &fakeExecutor{}, zap.NewNop())
		require.NoError(t, err)
		assert.ErrorIs(t, s.Dispatch(context.Background(), testSubBatch()), ErrSchedulerNotRunning)
	})

	t.Run("executes with batch ids in the context logger", func(t *testing.T) {
		exec := &fakeExecutor{}
		s := startScheduler(t, testConfig(), exec, zap.NewNop())
		sb := testSubBatch()

		require.NoError(t, s.Dispatch(context.Background(), sb))

		require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, sb.BatchID.String(), exec.batchIDs[0])
		require.Eventually(t, func() bool {
			_, active := s.Stats()
			return active == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("ignores a sub-batch that is already scheduled", func(t *testing.T) {
		exec := &fakeExecutor{block: make(chan struct{})}
		s := startScheduler(t, testConfig(), exec, zap.NewNop())
		sb := testSubBatch()

		require.NoError(t, s.Dispatch(context.Background(), sb))
		require.NoError(t, s.Dispatch(context.Background(), sb))
		require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		close(exec.block)

		require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), exec.calls.Load())
	})

	t.Run("queue full", func(t *testing.T) {
		exec := &fakeExecutor{block: make(chan struct{})}
		defer close(exec.block)
		cfg := FeedSchedulerConfig{Workers: 1, QueueSize: 1, JobTimeout: time.Second}
		s := startScheduler(t, cfg, exec, zap.NewNop())

		require.NoError(t, s.Dispatch(context.Background(), testSubBatch()))
		require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, s.Dispatch(context.Background(), testSubBatch()))

		rejected := testSubBatch()
		assert.ErrorIs(t, s.Dispatch(context.Background(), rejected), ErrJobQueueFull)

		queued, active := s.Stats()
		assert.Equal(t, 1, queued)
		assert.Equal(t, 2, active)
	})

	t.Run("logs executor failures", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		exec := &fakeExecutor{err: errors.New("marketplace unavailable")}
		s := startScheduler(t, testConfig(), exec, zap.New(core))
		sb := testSubBatch()

		require.NoError(t, s.Dispatch(context.Background(), sb))

		require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
		fields := logs.All()[0].ContextMap()
		assert.Equal(t, sb.ID.String(), fields["sub_batch_id"])
		assert.Equal(t, "marketplace unavailable", fields["error"])
	})
}

func TestFeedScheduler_StopCancelsRunningJobs(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	s, err := NewFeedScheduler(testConfig(), exec, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Dispatch(context.Background(), testSubBatch()))
	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.ErrorIs(t, s.Dispatch(context.Background(), testSubBatch()), ErrSchedulerNotRunning)
	_, active := s.Stats()
	assert.Equal(t, 0, active)
}

func TestFeedScheduler_Resume(t *testing.T) {
	resumer := &fakeResumer{}
	s, err := NewFeedScheduler(FeedSchedulerConfig{
		Workers:        1,
		QueueSize:      1,
		JobTimeout:     time.Second,
		ResumeInterval: 10 * time.Millisecond,
	}, &fakeExecutor{}, zap.NewNop())
	require.NoError(t, err)
	s.SetResumer(resumer)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return resumer.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}
