package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// ErrNoAddr is returned when the configuration carries no address
var ErrNoAddr = errors.New("redis addr is required")

// NewClient builds a universal client for single, sentinel or cluster
// deployments and verifies the connection with PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	addrs := cfg.Addrs()
	if len(addrs) == 0 {
		return nil, ErrNoAddr
	}

	opts := &redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if !cfg.IsCluster() {
		// can not set db in cluster mode
		opts.DB = cfg.DB
	}

	client := redis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
