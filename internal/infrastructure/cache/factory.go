package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// InFlightRegistryFactory creates the in-flight registry based on configuration
type InFlightRegistryFactory struct {
	redisConfig           config.RedisConfig
	ttl                   time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption configures the factory
type FactoryOption func(*InFlightRegistryFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *InFlightRegistryFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to the in-memory registry.
// Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *InFlightRegistryFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewInFlightRegistryFactory creates a new factory
func NewInFlightRegistryFactory(cfg config.RedisConfig, ttl time.Duration, opts ...FactoryOption) *InFlightRegistryFactory {
	f := &InFlightRegistryFactory{
		redisConfig:           cfg,
		ttl:                   ttl,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns the registry plus a close func for the underlying connection.
func (f *InFlightRegistryFactory) Create(ctx context.Context) (feed.InFlightRegistry, func() error, error) {
	noop := func() error { return nil }
	if !f.redisConfig.Enabled {
		f.logger.Info("redis disabled, using in-memory in-flight registry")
		return NewInMemoryInFlightRegistry(f.ttl), noop, nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err == nil {
		f.logger.Info("using Redis in-flight registry", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisInFlightRegistry(client, "", f.ttl), client.Close, nil
	}
	if !f.allowInMemoryFallback {
		return nil, noop, fmt.Errorf("Redis required for in-flight tracking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory in-flight registry. "+
		"Items may be submitted twice when several instances run.",
		zap.Error(err),
	)
	return NewInMemoryInFlightRegistry(f.ttl), noop, nil
}
