package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

// RedisStore maps the byte range onto a single Redis string using
// GETRANGE/SETRANGE. Durability follows the server's own persistence.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisStore uses an existing client. The client is not closed by Close.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// DialRedisStore creates its own client and checks connectivity.
func DialRedisStore(addr string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store connection failed: %w", err)
	}
	debug.Info("State stored in redis key %s at %s", key, addr)
	return &RedisStore{client: client, key: key, owned: true}, nil
}

func (r *RedisStore) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	val, err := r.client.GetRange(ctx, r.key, off, off+int64(len(p))-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("getrange %s: %w", r.key, err)
	}
	return rangeResult(val, p)
}

// rangeResult copies a GETRANGE reply into p. Redis answers a missing key
// or a range past the end with a shorter (possibly empty) string, which
// is reported as ErrShortRead so the records get healed.
func rangeResult(val string, p []byte) (int, error) {
	n := copy(p, val)
	if n < len(p) {
		return n, ErrShortRead
	}
	return n, nil
}

func (r *RedisStore) WriteAt(p []byte, off int64) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.client.SetRange(ctx, r.key, off, string(p)).Err(); err != nil {
		return 0, fmt.Errorf("setrange %s: %w", r.key, err)
	}
	return len(p), nil
}

// Commit is a no-op: every SETRANGE is already acknowledged by the server.
func (r *RedisStore) Commit() error { return nil }

func (r *RedisStore) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
