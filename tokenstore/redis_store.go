package tokenstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "wifiwatch:token:"

// RedisStore persists tokens in Redis, sharing one credential across
// processes on the same profile.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
	cancel func()
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	store := &RedisStore{client: client, ctx: ctx, cancel: cancel}

	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "[NewRedisStore] ping")
	}
	return store, nil
}

func (st *RedisStore) Get(key string) (string, bool, error) {
	value, err := st.client.Get(st.ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "[RedisStore.Get]")
	}
	return value, true, nil
}

func (st *RedisStore) Set(key, value string) error {
	// Tokens have no store-side TTL; the session manager owns their
	// lifecycle and clears them explicitly.
	if err := st.client.Set(st.ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return errors.Wrap(err, "[RedisStore.Set]")
	}
	return nil
}

func (st *RedisStore) Clear(key string) error {
	if err := st.client.Del(st.ctx, redisKeyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "[RedisStore.Clear]")
	}
	return nil
}

func (st *RedisStore) Close() error {
	st.cancel()
	return st.client.Close()
}
