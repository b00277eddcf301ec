package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultInFlightPrefix = "feedsync:inflight:"

// RedisInFlightRegistry tracks items held by a submission batch in Redis so
// several feedsync instances never submit the same item concurrently.
type RedisInFlightRegistry struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisInFlightRegistry creates a registry on an existing client.
// Marks expire after ttl so a crashed instance cannot pin items forever.
func NewRedisInFlightRegistry(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisInFlightRegistry {
	if keyPrefix == "" {
		keyPrefix = defaultInFlightPrefix
	}
	return &RedisInFlightRegistry{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Acquire marks the item as held by batchID. Re-acquiring for the same batch succeeds.
func (r *RedisInFlightRegistry) Acquire(ctx context.Context, itemID, batchID uuid.UUID) (bool, error) {
	key := r.keyPrefix + itemID.String()
	ok, err := r.client.SetNX(ctx, key, batchID.String(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark item %s in flight: %w", itemID, err)
	}
	if ok {
		return true, nil
	}

	holder, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return r.Acquire(ctx, itemID, batchID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read in-flight holder of %s: %w", itemID, err)
	}
	return holder == batchID.String(), nil
}

// Release clears the in-flight marks of the given items
func (r *RedisInFlightRegistry) Release(ctx context.Context, itemIDs ...uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = r.keyPrefix + id.String()
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to release %d in-flight items: %w", len(itemIDs), err)
	}
	return nil
}

// Holder returns the batch currently holding the item
func (r *RedisInFlightRegistry) Holder(ctx context.Context, itemID uuid.UUID) (uuid.UUID, bool, error) {
	v, err := r.client.Get(ctx, r.keyPrefix+itemID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt in-flight mark for %s: %w", itemID, err)
	}
	return id, true, nil
}

var _ feed.InFlightRegistry = (*RedisInFlightRegistry)(nil)
