package session

import (
	"context"
	stderrors "errors"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// RedisStore connect-redis 兼容的会话存储（键为 <prefix><sid>）
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	keys   Keys
}

// NewRedisStore 创建 Redis 会话存储
func NewRedisStore(client redis.UniversalClient, prefix string, keys Keys) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, keys: keys}
}

// Load 按会话 ID 加载身份
func (s *RedisStore) Load(ctx context.Context, sid string) (*Identity, error) {
	raw, err := s.client.Get(ctx, s.prefix+sid).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, errors.ErrNoSession
		}
		return nil, errors.ErrServer.WithError(err)
	}
	return decodeIdentity(raw, s.keys)
}
