package feed

import (
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
)

// SubBatchState is the lifecycle state of one feed submission
type SubBatchState string

const (
	SubBatchStateBuilt        SubBatchState = "BUILT"
	SubBatchStateSubmitting   SubBatchState = "SUBMITTING"
	SubBatchStateSubmitted    SubBatchState = "SUBMITTED"
	SubBatchStatePolling      SubBatchState = "POLLING"
	SubBatchStateProcessed    SubBatchState = "PROCESSED"
	SubBatchStateSubmitFailed SubBatchState = "SUBMIT_FAILED"
	// SubBatchStatePollTimeout means the outcome is unknown, not failed.
	SubBatchStatePollTimeout SubBatchState = "POLL_TIMEOUT"
)

var subBatchTransitions = map[SubBatchState][]SubBatchState{
	SubBatchStateBuilt:      {SubBatchStateSubmitting},
	SubBatchStateSubmitting: {SubBatchStateSubmitted, SubBatchStateSubmitFailed},
	SubBatchStateSubmitted:  {SubBatchStatePolling},
	SubBatchStatePolling:    {SubBatchStateProcessed, SubBatchStatePollTimeout},
}

// IsValid returns true if the state is known
func (s SubBatchState) IsValid() bool {
	switch s {
	case SubBatchStateBuilt, SubBatchStateSubmitting, SubBatchStateSubmitted, SubBatchStatePolling,
		SubBatchStateProcessed, SubBatchStateSubmitFailed, SubBatchStatePollTimeout:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition is possible
func (s SubBatchState) IsTerminal() bool {
	return s == SubBatchStateProcessed || s == SubBatchStateSubmitFailed || s == SubBatchStatePollTimeout
}

// CanTransitionTo reports whether next is a legal successor
func (s SubBatchState) CanTransitionTo(next SubBatchState) bool {
	for _, allowed := range subBatchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String returns the string representation
func (s SubBatchState) String() string {
	return string(s)
}

// NonTerminalSubBatchStates lists the states a restarted process resumes from
func NonTerminalSubBatchStates() []SubBatchState {
	return []SubBatchState{SubBatchStateBuilt, SubBatchStateSubmitting, SubBatchStateSubmitted, SubBatchStatePolling}
}

// SubBatch is an independently submitted and polled slice of a Batch.
// One SubBatch maps to exactly one feed submission.
type SubBatch struct {
	ID       uuid.UUID
	BatchID  uuid.UUID
	Sequence int
	// Items keep the accumulation order of the builder; the payload preserves it.
	Items []listing.MappedItem
	State SubBatchState
	// FeedID is set once submission succeeds.
	FeedID string
	// APIResponse is set once a terminal status is observed; it stays nil on poll timeout.
	APIResponse    *FeedStatusResponse
	SubmitAttempts int
	PollAttempts   int
	LastError      string
	SubmittedAt    *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSubBatch creates a SubBatch in BUILT state
func NewSubBatch(batchID uuid.UUID, sequence int, items []listing.MappedItem, now time.Time) *SubBatch {
	return &SubBatch{
		ID:        uuid.New(),
		BatchID:   batchID,
		Sequence:  sequence,
		Items:     items,
		State:     SubBatchStateBuilt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the SubBatch into the next state
func (s *SubBatch) TransitionTo(next SubBatchState, now time.Time) error {
	if !s.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, s.State, next)
	}
	s.State = next
	s.UpdatedAt = now
	if next.IsTerminal() {
		s.CompletedAt = &now
	}
	return nil
}

// BeginSubmission moves BUILT to SUBMITTING
func (s *SubBatch) BeginSubmission(now time.Time) error {
	return s.TransitionTo(SubBatchStateSubmitting, now)
}

// MarkSubmitted records the feed id returned by the marketplace
func (s *SubBatch) MarkSubmitted(feedID string, now time.Time) error {
	if feedID == "" {
		return fmt.Errorf("%w: empty feed id", ErrMarketplaceInvalidResponse)
	}
	if err := s.TransitionTo(SubBatchStateSubmitted, now); err != nil {
		return err
	}
	s.FeedID = feedID
	s.SubmittedAt = &now
	s.LastError = ""
	return nil
}

// MarkSubmitFailed records a final submission failure
func (s *SubBatch) MarkSubmitFailed(reason string, now time.Time) error {
	if err := s.TransitionTo(SubBatchStateSubmitFailed, now); err != nil {
		return err
	}
	s.LastError = reason
	return nil
}

// BeginPolling moves SUBMITTED to POLLING
func (s *SubBatch) BeginPolling(now time.Time) error {
	return s.TransitionTo(SubBatchStatePolling, now)
}

// MarkProcessed stores the terminal marketplace response
func (s *SubBatch) MarkProcessed(resp *FeedStatusResponse, now time.Time) error {
	if resp == nil || !resp.Status.IsTerminal() {
		return fmt.Errorf("%w: response is not terminal", ErrInvalidStateTransition)
	}
	if err := s.TransitionTo(SubBatchStateProcessed, now); err != nil {
		return err
	}
	s.APIResponse = resp
	s.LastError = ""
	return nil
}

// MarkPollTimeout gives up watching without deciding the outcome
func (s *SubBatch) MarkPollTimeout(reason string, now time.Time) error {
	if err := s.TransitionTo(SubBatchStatePollTimeout, now); err != nil {
		return err
	}
	s.LastError = reason
	return nil
}

// HasResponse reports whether a terminal marketplace response is available
func (s *SubBatch) HasResponse() bool {
	return s.State == SubBatchStateProcessed && s.APIResponse != nil
}

// ItemIDs returns the source item ids in payload order
func (s *SubBatch) ItemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.SourceItemID
	}
	return ids
}

// Payload builds the outbound feed document
func (s *SubBatch) Payload() FeedPayload {
	items := make([]FeedItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = NewFeedItem(it)
	}
	return FeedPayload{BatchID: s.BatchID, SubBatchID: s.ID, Items: items}
}
