package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrInvalidPolicy is returned when a submit or poll policy is invalid
var ErrInvalidPolicy = errors.New("feed: invalid retry policy")

// SubmitPolicy bounds submission retries
type SubmitPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultSubmitPolicy returns the default submission policy
func DefaultSubmitPolicy() SubmitPolicy {
	return SubmitPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Validate validates the policy
func (p SubmitPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidPolicy)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("%w: backoff must satisfy 0 <= initial <= max", ErrInvalidPolicy)
	}
	return nil
}

// backoff returns initial * 2^(attempt-1), capped at MaxBackoff
func backoff(initial, limit time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FeedSubmitter drives a SubBatch from BUILT to SUBMITTED or SUBMIT_FAILED
type FeedSubmitter struct {
	client  feed.MarketplaceClient
	repo    feed.BatchRepository
	policy  SubmitPolicy
	logger  *zap.Logger
	metrics *telemetry.FeedMetrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewFeedSubmitter creates a new FeedSubmitter
func NewFeedSubmitter(client feed.MarketplaceClient, repo feed.BatchRepository, policy SubmitPolicy, logger *zap.Logger) (*FeedSubmitter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &FeedSubmitter{
		client: client,
		repo:   repo,
		policy: policy,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// WithMetrics sets the metrics recorder
func (s *FeedSubmitter) WithMetrics(m *telemetry.FeedMetrics) *FeedSubmitter {
	s.metrics = m
	return s
}

// Submit sends the SubBatch payload. Transport failures are retried with
// exponential backoff; once attempts run out the SubBatch ends in
// SUBMIT_FAILED and Submit returns nil, since the outcome lives on the
// SubBatch. A cancelled context leaves the SubBatch in SUBMITTING so that it
// can be resumed.
func (s *FeedSubmitter) Submit(ctx context.Context, sb *feed.SubBatch) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "feed_submitter", "submit")
	defer span.End()
	telemetry.SetAttributes(span,
		"sub_batch_id", sb.ID.String(),
		"batch_id", sb.BatchID.String(),
		"items_count", len(sb.Items),
	)

	switch sb.State {
	case feed.SubBatchStateBuilt:
		if err := sb.BeginSubmission(s.now()); err != nil {
			return err
		}
		if err := s.save(ctx, sb); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	case feed.SubBatchStateSubmitting:
		// resumed after a restart
	default:
		return fmt.Errorf("%w: cannot submit sub-batch in state %s", feed.ErrInvalidStateTransition, sb.State)
	}

	payload := sb.Payload()
	attempts := max(s.policy.MaxAttempts-sb.SubmitAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sb.SubmitAttempts++
		feedID, err := s.client.SubmitFeed(ctx, payload)
		if err == nil {
			err = sb.MarkSubmitted(feedID, s.now())
		}
		s.metrics.RecordMarketplaceCall(ctx, "submit_feed", err == nil)
		if err == nil {
			s.logger.Info("sub-batch submitted",
				zap.String("sub_batch_id", sb.ID.String()),
				zap.String("batch_id", sb.BatchID.String()),
				zap.String("feed_id", feedID),
				zap.Int("attempts", sb.SubmitAttempts),
			)
			s.metrics.RecordSubBatchState(ctx, string(sb.State))
			telemetry.SetOK(span)
			return s.save(ctx, sb)
		}

		lastErr = err
		sb.LastError = err.Error()
		s.logger.Warn("feed submission failed",
			zap.String("sub_batch_id", sb.ID.String()),
			zap.Int("attempt", sb.SubmitAttempts),
			zap.Int("max_attempts", s.policy.MaxAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return s.interrupted(ctx, sb)
		}
		if !retryable(err) || attempt == attempts {
			break
		}
		if err := s.sleep(ctx, backoff(s.policy.InitialBackoff, s.policy.MaxBackoff, attempt)); err != nil {
			return s.interrupted(ctx, sb)
		}
	}

	if err := sb.MarkSubmitFailed(lastErr.Error(), s.now()); err != nil {
		return err
	}
	s.logger.Error("sub-batch submission failed",
		zap.String("sub_batch_id", sb.ID.String()),
		zap.String("batch_id", sb.BatchID.String()),
		zap.Int("attempts", sb.SubmitAttempts),
		zap.Error(lastErr),
	)
	s.metrics.RecordSubBatchState(ctx, string(sb.State))
	telemetry.RecordError(span, lastErr)
	return s.save(ctx, sb)
}

// interrupted persists progress with a detached context and reports the cancellation
func (s *FeedSubmitter) interrupted(ctx context.Context, sb *feed.SubBatch) error {
	if err := s.save(context.WithoutCancel(ctx), sb); err != nil {
		s.logger.Warn("failed to persist interrupted sub-batch",
			zap.String("sub_batch_id", sb.ID.String()),
			zap.Error(err),
		)
	}
	return ctx.Err()
}

func (s *FeedSubmitter) save(ctx context.Context, sb *feed.SubBatch) error {
	if err := s.repo.SaveSubBatch(ctx, sb); err != nil {
		return fmt.Errorf("failed to save sub-batch %s: %w", sb.ID, err)
	}
	return nil
}

// retryable reports whether a marketplace error may succeed on retry
func retryable(err error) bool {
	if errors.Is(err, feed.ErrMarketplaceRejected) || errors.Is(err, feed.ErrMarketplaceAuthFailed) {
		return false
	}
	return errors.Is(err, feed.ErrTransport) || errors.Is(err, feed.ErrMarketplaceInvalidResponse)
}
