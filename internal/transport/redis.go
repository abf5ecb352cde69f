package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cjeanneret/WinkGo/internal/debug"
)

// RedisConfig names the keys a RedisLink uses.
type RedisConfig struct {
	CommandKey      string // list popped with BRPOP
	ResponseChannel string // replies and broadcasts are PUBLISHed here
	StatusKey       string // hash holding the latest status line
}

// RedisLink receives command lines from a Redis list and publishes the
// replies. Status broadcasts are also mirrored into a hash so late
// readers can HGET the latest snapshot.
type RedisLink struct {
	client *redis.Client
	cfg    RedisConfig
	hub    *Hub

	wg sync.WaitGroup
}

func NewRedisLink(client *redis.Client, cfg RedisConfig, hub *Hub) *RedisLink {
	return &RedisLink{client: client, cfg: cfg, hub: hub}
}

// Run blocks until ctx is cancelled.
func (r *RedisLink) Run(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis link: %w", err)
	}
	id, out, unsub := r.hub.Subscribe("redis")
	defer unsub()
	debug.Info("Redis link up (%s), commands on %s", id, r.cfg.CommandKey)

	r.wg.Add(1)
	go r.publishLoop(ctx, out)
	r.listen(ctx, id)
	r.wg.Wait()
	return nil
}

func (r *RedisLink) listen(ctx context.Context, source string) {
	for {
		if ctx.Err() != nil {
			return
		}
		// Short timeout so cancellation is noticed.
		result, err := r.client.BRPop(ctx, 5*time.Second, r.cfg.CommandKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			debug.Warn("Redis BRPOP %s: %v", r.cfg.CommandKey, err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		reply := NewReply()
		if !r.hub.Submit(Request{Line: result[1], Source: source, Reply: reply}) {
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			select {
			case line := <-reply:
				r.publish(ctx, line, false)
			case <-ctx.Done():
			}
		}()
	}
}

func (r *RedisLink) publishLoop(ctx context.Context, out <-chan string) {
	defer r.wg.Done()
	for {
		select {
		case line, ok := <-out:
			if !ok {
				return
			}
			r.publish(ctx, line, isStatusLine(line))
		case <-ctx.Done():
			return
		}
	}
}

func (r *RedisLink) publish(ctx context.Context, line string, status bool) {
	pipe := r.client.TxPipeline()
	if status && r.cfg.StatusKey != "" {
		pipe.HSet(ctx, r.cfg.StatusKey, "status", line, "updated", time.Now().UnixMilli())
	}
	pipe.Publish(ctx, r.cfg.ResponseChannel, line)
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		debug.Warn("Redis publish: %v", err)
	}
}

func isStatusLine(line string) bool {
	return strings.HasPrefix(line, `{"type":"status"`)
}
