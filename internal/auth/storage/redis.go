package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore reads credentials stored as JSON at <prefix>credential:<digest>
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(digest string) string {
	return s.prefix + "credential:" + digest
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (*Credential, error) {
	data, err := s.client.Get(ctx, s.key(Digest(token))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &cred, nil
}

// Put stores cred for token. A positive ttl expires the key.
func (s *RedisStore) Put(ctx context.Context, token string, cred *Credential, ttl time.Duration) error {
	cred.Digest = Digest(token)
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(cred.Digest), data, ttl).Err()
}

// Delete removes the credential for token
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(Digest(token))).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
