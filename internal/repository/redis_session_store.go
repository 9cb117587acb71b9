package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore はRedisを使用したセッションストア。
// キーは prefix + deviceID + ":" + key の形式で保存し、有効期限は付けない。
type RedisSessionStore struct {
	client   *redis.Client
	prefix   string
	deviceID string
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
func NewRedisSessionStore(client *redis.Client, prefix, deviceID string) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix, deviceID: deviceID}
}

// Write はkeyにvalueを保存する。
func (s *RedisSessionStore) Write(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return storageError("write", err)
	}
	return nil
}

// Read はkeyの値を取得する。見つからない場合はok=falseを返す。
func (s *RedisSessionStore) Read(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageError("read", err)
	}
	return value, true, nil
}

// Remove はkeyを削除する。
func (s *RedisSessionStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return storageError("remove", err)
	}
	return nil
}

func (s *RedisSessionStore) redisKey(key string) string {
	return s.prefix + s.deviceID + ":" + key
}

// compile-time interface check
var _ SessionStore = (*RedisSessionStore)(nil)
