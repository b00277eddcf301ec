package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// PollPolicy bounds the status checks of one feed
type PollPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed is measured from the submission time.
	MaxElapsed time.Duration
}

// DefaultPollPolicy returns the default polling policy
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		MaxAttempts:     20,
		InitialInterval: 30 * time.Second,
		MaxInterval:     10 * time.Minute,
		MaxElapsed:      4 * time.Hour,
	}
}

// Validate validates the policy
func (p PollPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max poll attempts must be positive", ErrInvalidPolicy)
	}
	if p.InitialInterval < 0 || p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("%w: poll interval must satisfy 0 <= initial <= max", ErrInvalidPolicy)
	}
	if p.MaxElapsed <= 0 {
		return fmt.Errorf("%w: max elapsed must be positive", ErrInvalidPolicy)
	}
	return nil
}

// FeedStatusPoller drives a SubBatch from SUBMITTED to PROCESSED or POLL_TIMEOUT
type FeedStatusPoller struct {
	client  feed.MarketplaceClient
	repo    feed.BatchRepository
	policy  PollPolicy
	logger  *zap.Logger
	metrics *telemetry.FeedMetrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewFeedStatusPoller creates a new FeedStatusPoller
func NewFeedStatusPoller(client feed.MarketplaceClient, repo feed.BatchRepository, policy PollPolicy, logger *zap.Logger) (*FeedStatusPoller, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &FeedStatusPoller{
		client: client,
		repo:   repo,
		policy: policy,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// WithMetrics sets the metrics recorder
func (p *FeedStatusPoller) WithMetrics(m *telemetry.FeedMetrics) *FeedStatusPoller {
	p.metrics = m
	return p
}

// Poll watches the feed until the marketplace reports a terminal status or the
// attempt count or elapsed time runs out. Running out moves the SubBatch to
// POLL_TIMEOUT, which is not a failure: the feed may still be processed
// remotely. Failed status calls count as attempts. A cancelled context leaves
// the SubBatch in POLLING.
func (p *FeedStatusPoller) Poll(ctx context.Context, sb *feed.SubBatch) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "feed_poller", "poll")
	defer span.End()
	telemetry.SetAttributes(span,
		"sub_batch_id", sb.ID.String(),
		"feed_id", sb.FeedID,
	)

	switch sb.State {
	case feed.SubBatchStateSubmitted:
		if err := sb.BeginPolling(p.now()); err != nil {
			return err
		}
		p.metrics.RecordSubBatchState(ctx, string(sb.State))
		if err := p.save(ctx, sb); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	case feed.SubBatchStatePolling:
		// resumed after a restart
	default:
		return fmt.Errorf("%w: cannot poll sub-batch in state %s", feed.ErrInvalidStateTransition, sb.State)
	}

	submittedAt := sb.CreatedAt
	if sb.SubmittedAt != nil {
		submittedAt = *sb.SubmittedAt
	}
	deadline := submittedAt.Add(p.policy.MaxElapsed)

	for {
		if sb.PollAttempts >= p.policy.MaxAttempts {
			return p.timeout(ctx, sb, fmt.Sprintf("no terminal status after %d poll attempts", sb.PollAttempts))
		}
		now := p.now()
		if !now.Before(deadline) {
			return p.timeout(ctx, sb, fmt.Sprintf("no terminal status within %s of submission", p.policy.MaxElapsed))
		}

		wait := min(backoff(p.policy.InitialInterval, p.policy.MaxInterval, sb.PollAttempts+1), deadline.Sub(now))
		if err := p.sleep(ctx, wait); err != nil {
			return p.interrupted(ctx, sb)
		}

		sb.PollAttempts++
		resp, err := p.client.GetFeedStatus(ctx, sb.FeedID)
		p.metrics.RecordMarketplaceCall(ctx, "get_feed_status", err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return p.interrupted(ctx, sb)
			}
			sb.LastError = err.Error()
			p.logger.Warn("feed status check failed",
				zap.String("sub_batch_id", sb.ID.String()),
				zap.String("feed_id", sb.FeedID),
				zap.Int("attempt", sb.PollAttempts),
				zap.Error(err),
			)
			if err := p.save(ctx, sb); err != nil {
				return err
			}
			continue
		}

		if !resp.Status.IsTerminal() {
			p.logger.Debug("feed still processing",
				zap.String("sub_batch_id", sb.ID.String()),
				zap.String("feed_id", sb.FeedID),
				zap.String("status", string(resp.Status)),
				zap.Int("attempt", sb.PollAttempts),
			)
			if err := p.save(ctx, sb); err != nil {
				return err
			}
			continue
		}

		if err := sb.MarkProcessed(resp, p.now()); err != nil {
			return err
		}
		p.logger.Info("feed processed",
			zap.String("sub_batch_id", sb.ID.String()),
			zap.String("feed_id", sb.FeedID),
			zap.String("status", string(resp.Status)),
			zap.Int("poll_attempts", sb.PollAttempts),
			zap.Int("results", len(resp.Results)),
		)
		p.metrics.RecordSubBatchState(ctx, string(sb.State))
		p.metrics.RecordFeedProcessed(ctx, p.now().Sub(submittedAt), string(resp.Status))
		telemetry.SetOK(span)
		return p.save(ctx, sb)
	}
}

func (p *FeedStatusPoller) timeout(ctx context.Context, sb *feed.SubBatch, reason string) error {
	if err := sb.MarkPollTimeout(reason, p.now()); err != nil {
		return err
	}
	p.logger.Warn("feed poll timed out",
		zap.String("sub_batch_id", sb.ID.String()),
		zap.String("feed_id", sb.FeedID),
		zap.Int("poll_attempts", sb.PollAttempts),
		zap.String("reason", reason),
	)
	p.metrics.RecordSubBatchState(ctx, string(sb.State))
	return p.save(ctx, sb)
}

func (p *FeedStatusPoller) interrupted(ctx context.Context, sb *feed.SubBatch) error {
	if err := p.save(context.WithoutCancel(ctx), sb); err != nil {
		p.logger.Warn("failed to persist interrupted sub-batch",
			zap.String("sub_batch_id", sb.ID.String()),
			zap.Error(err),
		)
	}
	return ctx.Err()
}

func (p *FeedStatusPoller) save(ctx context.Context, sb *feed.SubBatch) error {
	if err := p.repo.SaveSubBatch(ctx, sb); err != nil {
		return fmt.Errorf("failed to save sub-batch %s: %w", sb.ID, err)
	}
	return nil
}
