package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/common/redisx"

	"go.uber.org/zap"
)

// NewFromConfig builds the global limiter. It returns a nil limiter when
// rate limiting is disabled. The returned stop func releases the store and
// ends the memory sweep.
func NewFromConfig(ctx context.Context, logger *zap.Logger, cfg config.RateLimitConfig) (*Limiter, func(), error) {
	logger = logger.Named("ratelimit")
	if cfg.Disabled {
		logger.Info("rate limiting disabled")
		return nil, func() {}, nil
	}

	var (
		store Store
		stop  func()
	)
	switch cfg.Store.Type {
	case cnst.StoreTypeMemory, "":
		mem := NewMemoryStore()
		sweepCtx, cancel := context.WithCancel(ctx)
		go mem.Run(sweepCtx, cfg.SweepInterval, time.Now)
		store, stop = mem, cancel
	case cnst.StoreTypeRedis:
		client, err := redisx.NewClient(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, nil, err
		}
		rs := NewRedisStore(client, cfg.Store.Redis.KeyPrefix(cnst.AppName)+"ratelimit:")
		store, stop = rs, func() { _ = rs.Close() }
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit store type: %s", cfg.Store.Type)
	}

	logger.Info("rate limiter ready",
		zap.String("store", cfg.Store.Type),
		zap.Int("max_requests", cfg.MaxRequests),
		zap.Duration("window", cfg.Window))
	return New(store, cfg.MaxRequests, cfg.Window, WithLogger(logger)), stop, nil
}
