package clients

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/repo"
)

// DBDeduper remembers processed update ids in the record store.
type DBDeduper struct {
	DB  *gorm.DB
	TTL time.Duration
}

// MarkProcessed reports whether updateID is seen for the first time.
func (d DBDeduper) MarkProcessed(ctx context.Context, updateID, chatID int64) (bool, error) {
	return repo.MarkUpdateProcessed(ctx, d.DB, updateID, chatID, d.TTL)
}

// RedisDeduper remembers processed update ids in Redis with SET NX.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper connects to rawURL (redis://...), instruments tracing and
// pings the server.
func NewRedisDeduper(ctx context.Context, rawURL string, ttl time.Duration) (*RedisDeduper, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis tracing: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return newRedisDeduper(client, ttl), nil
}

func newRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: "update:"}
}

// MarkProcessed reports whether updateID is seen for the first time.
func (r *RedisDeduper) MarkProcessed(ctx context.Context, updateID, chatID int64) (bool, error) {
	key := r.prefix + strconv.FormatInt(updateID, 10)
	return r.client.SetNX(ctx, key, chatID, r.ttl).Result()
}

// Close releases the connection pool.
func (r *RedisDeduper) Close() error { return r.client.Close() }
