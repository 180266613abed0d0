package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBackend stores documents as plain string keys, <prefix>:<namespace>:<key>.
// Each namespace keeps a set of its keys so documents can be listed without SCAN.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend creates a redis backend; client may be a *redis.Client or a mock
func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "assistant"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) docKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, namespace, key)
}

func (r *RedisBackend) indexKey(namespace string) string {
	return fmt.Sprintf("%s:%s:_keys", r.prefix, namespace)
}

func (r *RedisBackend) EnsureNamespace(ctx context.Context, namespace string) error {
	if err := r.client.SAdd(ctx, r.prefix+":_namespaces", namespace).Err(); err != nil {
		return fmt.Errorf("failed to register namespace %s: %w", namespace, err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.docKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", r.docKey(namespace, key), err)
	}
	return data, nil
}

func (r *RedisBackend) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := r.client.Set(ctx, r.docKey(namespace, key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", r.docKey(namespace, key), err)
	}
	if err := r.client.SAdd(ctx, r.indexKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("failed to index %s: %w", r.docKey(namespace, key), err)
	}
	return nil
}

func (r *RedisBackend) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", namespace, err)
	}
	return keys, nil
}
