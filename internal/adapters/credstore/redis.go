package credstore

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/attuned-ai/attuned/internal/errors"
	"github.com/attuned-ai/attuned/internal/ports"
)

// RedisStore is a credential store backed by Redis, for hosted
// deployments where the session core runs server-side and device-local
// disk is unavailable.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.CredentialStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed credential store. Keys are
// namespaced under the given prefix ("credentials:" when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = "credentials:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrapf(err, apperrors.ErrCodeStorage, "redis get %q", key)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "redis set %q", key)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorage, "redis del %q", key)
	}
	return nil
}
