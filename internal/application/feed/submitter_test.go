package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/marketplace"
	"github.com/erp/feedsync/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUnavailable = fmt.Errorf("%w: %w", feed.ErrTransport, feed.ErrMarketplaceUnavailable)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(time.Second, 10*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestSubmitPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultSubmitPolicy().Validate())
	assert.ErrorIs(t, SubmitPolicy{MaxAttempts: 0}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, SubmitPolicy{MaxAttempts: 1, InitialBackoff: time.Minute, MaxBackoff: time.Second}.Validate(), ErrInvalidPolicy)

	_, err := NewFeedSubmitter(nil, nil, SubmitPolicy{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestFeedSubmitter_Submit(t *testing.T) {
	t.Run("submits on first attempt", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		batch := createTestBatch(repo, 3)
		sb := batch.SubBatches[0]
		client := new(mockMarketplaceClient)
		client.On("SubmitFeed", mock.Anything, mock.MatchedBy(func(p feed.FeedPayload) bool {
			return p.SubBatchID == sb.ID && len(p.Items) == 3
		})).Return("feed-1", nil).Once()
		clock := newFakeClock()

		err := newTestSubmitter(client, repo, clock).Submit(context.Background(), sb)
		require.NoError(t, err)

		assert.Equal(t, feed.SubBatchStateSubmitted, sb.State)
		assert.Equal(t, "feed-1", sb.FeedID)
		assert.Equal(t, 1, sb.SubmitAttempts)
		require.NotNil(t, sb.SubmittedAt)
		assert.Equal(t, clock.now(), *sb.SubmittedAt)
		assert.Equal(t, []feed.SubBatchState{feed.SubBatchStateSubmitting, feed.SubBatchStateSubmitted}, repo.savedStates(sb.ID))
		assert.Empty(t, clock.sleeps)
		client.AssertExpectations(t)
	})

	t.Run("retries transport errors with backoff", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 2).SubBatches[0]
		client := new(mockMarketplaceClient)
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("", errUnavailable).Twice()
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("feed-2", nil).Once()
		clock := newFakeClock()

		err := newTestSubmitter(client, repo, clock).Submit(context.Background(), sb)
		require.NoError(t, err)

		assert.Equal(t, feed.SubBatchStateSubmitted, sb.State)
		assert.Equal(t, 3, sb.SubmitAttempts)
		assert.Empty(t, sb.LastError)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.sleeps)
	})

	t.Run("ends in SUBMIT_FAILED after the last attempt", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 2).SubBatches[0]
		client := new(mockMarketplaceClient)
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("", errUnavailable).Times(3)
		clock := newFakeClock()

		err := newTestSubmitter(client, repo, clock).Submit(context.Background(), sb)
		require.NoError(t, err)

		assert.Equal(t, feed.SubBatchStateSubmitFailed, sb.State)
		assert.Equal(t, 3, sb.SubmitAttempts)
		assert.Contains(t, sb.LastError, "temporarily unavailable")
		assert.NotNil(t, sb.CompletedAt)
		assert.Len(t, clock.sleeps, 2)
		states := repo.savedStates(sb.ID)
		assert.Equal(t, feed.SubBatchStateSubmitFailed, states[len(states)-1])
		client.AssertExpectations(t)
	})

	t.Run("rejected feeds are not retried", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 1).SubBatches[0]
		client := new(mockMarketplaceClient)
		rejected := fmt.Errorf("%w: %w: schema violation", feed.ErrTransport, feed.ErrMarketplaceRejected)
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("", rejected).Once()
		clock := newFakeClock()

		require.NoError(t, newTestSubmitter(client, repo, clock).Submit(context.Background(), sb))

		assert.Equal(t, feed.SubBatchStateSubmitFailed, sb.State)
		assert.Equal(t, 1, sb.SubmitAttempts)
		assert.Empty(t, clock.sleeps)
		client.AssertExpectations(t)
	})

	t.Run("an empty feed id counts as a failed attempt", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 1).SubBatches[0]
		client := new(mockMarketplaceClient)
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("", nil).Once()
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("feed-9", nil).Once()

		require.NoError(t, newTestSubmitter(client, repo, newFakeClock()).Submit(context.Background(), sb))

		assert.Equal(t, feed.SubBatchStateSubmitted, sb.State)
		assert.Equal(t, "feed-9", sb.FeedID)
		assert.Equal(t, 2, sb.SubmitAttempts)
	})

	t.Run("cancellation leaves the sub-batch SUBMITTING", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 1).SubBatches[0]
		ctx, cancel := context.WithCancel(context.Background())
		client := new(mockMarketplaceClient)
		client.On("SubmitFeed", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return("", errUnavailable).Once()

		err := newTestSubmitter(client, repo, newFakeClock()).Submit(ctx, sb)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, feed.SubBatchStateSubmitting, sb.State)
		assert.Equal(t, 1, sb.SubmitAttempts)
		states := repo.savedStates(sb.ID)
		assert.Equal(t, feed.SubBatchStateSubmitting, states[len(states)-1])
	})

	t.Run("resumed submission keeps the attempt budget", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 1).SubBatches[0]
		sb.State = feed.SubBatchStateSubmitting
		sb.SubmitAttempts = 2
		client := new(mockMarketplaceClient)
		client.On("SubmitFeed", mock.Anything, mock.Anything).Return("", errUnavailable).Once()

		require.NoError(t, newTestSubmitter(client, repo, newFakeClock()).Submit(context.Background(), sb))

		assert.Equal(t, feed.SubBatchStateSubmitFailed, sb.State)
		assert.Equal(t, 3, sb.SubmitAttempts)
		client.AssertExpectations(t)
	})

	t.Run("rejects sub-batches past submission", func(t *testing.T) {
		repo := newMemoryBatchRepository()
		sb := createTestBatch(repo, 1).SubBatches[0]
		sb.State = feed.SubBatchStatePolling
		client := new(mockMarketplaceClient)

		err := newTestSubmitter(client, repo, newFakeClock()).Submit(context.Background(), sb)

		assert.ErrorIs(t, err, feed.ErrInvalidStateTransition)
		client.AssertNotCalled(t, "SubmitFeed", mock.Anything, mock.Anything)
	})
}

func TestFeedSubmitter_ResumeAfterLostSave(t *testing.T) {
	m := testutil.NewFakeMarketplace(t)
	client, err := marketplace.NewClient(marketplace.Config{
		BaseURL:   m.URL(),
		AppKey:    "seller-1",
		AppSecret: "s3cret",
		Timeout:   2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	repo := newMemoryBatchRepository()
	sb := createTestBatch(repo, 2).SubBatches[0]
	submitter := newTestSubmitter(client, repo, newFakeClock())
	require.NoError(t, submitter.Submit(context.Background(), sb))
	first := sb.FeedID

	// the process died after the marketplace accepted the feed but before SUBMITTED was stored
	sb.State = feed.SubBatchStateSubmitting
	sb.FeedID = ""
	sb.SubmittedAt = nil
	require.NoError(t, submitter.Submit(context.Background(), sb))

	assert.Equal(t, feed.SubBatchStateSubmitted, sb.State)
	assert.Equal(t, first, sb.FeedID)
	assert.Equal(t, 1, m.Submissions())
}
