package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, operation string) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, s.progressKey(operation)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", operation, err)
	}
	return &snapshot, nil
}

func (s *RedisStore) Put(ctx context.Context, operation string, snapshot Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.progressKey(operation), raw, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, operation string) error {
	return s.client.Del(ctx, s.progressKey(operation)).Err()
}

func (s *RedisStore) progressKey(operation string) string {
	return s.keyPrefix + "progress:" + operation
}

type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisLocker(client redis.UniversalClient, keyPrefix string) *RedisLocker {
	return &RedisLocker{client: client, keyPrefix: keyPrefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, operation, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.leaseKey(operation), owner, ttl).Result()
}

// Release deletes the lease only while owner still holds it.
func (l *RedisLocker) Release(ctx context.Context, operation, owner string) error {
	return releaseScript.Run(ctx, l.client, []string{l.leaseKey(operation)}, owner).Err()
}

func (l *RedisLocker) ForceRelease(ctx context.Context, operation string) error {
	return l.client.Del(ctx, l.leaseKey(operation)).Err()
}

func (l *RedisLocker) Owner(ctx context.Context, operation string) (string, error) {
	owner, err := l.client.Get(ctx, l.leaseKey(operation)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func (l *RedisLocker) leaseKey(operation string) string {
	return l.keyPrefix + "lease:" + operation
}
