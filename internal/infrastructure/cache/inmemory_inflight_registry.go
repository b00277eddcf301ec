package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/google/uuid"
)

type inFlightMark struct {
	batchID   uuid.UUID
	expiresAt time.Time
}

// InMemoryInFlightRegistry is the single-instance registry used when Redis is disabled
type InMemoryInFlightRegistry struct {
	mu    sync.Mutex
	marks map[uuid.UUID]inFlightMark
	ttl   time.Duration
	now   func() time.Time
}

// NewInMemoryInFlightRegistry creates a registry whose marks expire after ttl (0 means never)
func NewInMemoryInFlightRegistry(ttl time.Duration) *InMemoryInFlightRegistry {
	return &InMemoryInFlightRegistry{
		marks: make(map[uuid.UUID]inFlightMark),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (r *InMemoryInFlightRegistry) Acquire(_ context.Context, itemID, batchID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if m, ok := r.marks[itemID]; ok && !r.expired(m, now) {
		return m.batchID == batchID, nil
	}
	m := inFlightMark{batchID: batchID}
	if r.ttl > 0 {
		m.expiresAt = now.Add(r.ttl)
	}
	r.marks[itemID] = m
	return true, nil
}

func (r *InMemoryInFlightRegistry) Release(_ context.Context, itemIDs ...uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range itemIDs {
		delete(r.marks, id)
	}
	return nil
}

// Holder returns the batch currently holding the item
func (r *InMemoryInFlightRegistry) Holder(_ context.Context, itemID uuid.UUID) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.marks[itemID]
	if !ok || r.expired(m, r.now()) {
		return uuid.Nil, false, nil
	}
	return m.batchID, true, nil
}

func (r *InMemoryInFlightRegistry) expired(m inFlightMark, now time.Time) bool {
	return !m.expiresAt.IsZero() && !now.Before(m.expiresAt)
}

var _ feed.InFlightRegistry = (*InMemoryInFlightRegistry)(nil)
