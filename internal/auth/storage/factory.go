package storage

import (
	"context"
	"fmt"

	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/common/redisx"

	"go.uber.org/zap"
)

// NewStore creates the credential store selected by cfg.Type
func NewStore(ctx context.Context, logger *zap.Logger, cfg config.CredentialStore) (Store, error) {
	logger.Info("Initializing credential store", zap.String("type", cfg.Type))
	switch cfg.Type {
	case cnst.StoreTypeMemory, "":
		return NewMemoryStore(cfg.Tokens), nil
	case cnst.StoreTypeRedis:
		client, err := redisx.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix(cnst.AppName)), nil
	case cnst.StoreTypeJWT:
		return NewJWTStore(cfg.JWT.SecretKey, cfg.JWT.Issuer)
	case cnst.StoreTypeDB:
		return NewDBStore(cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported credential store type: %s", cfg.Type)
	}
}
