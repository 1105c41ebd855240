package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares replay answers between ledger instances
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache storing JSON entries under prefix
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "pointledger:idem"
	}
	return &RedisCache{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// Connect parses a redis URL and pings the server
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) redisKey(kind entities.EntryKind, referenceID string) string {
	return c.prefix + ":" + key(kind, referenceID)
}

// Get returns a cached entry when present
func (c *RedisCache) Get(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}

	raw, err := c.client.Get(ctx, c.redisKey(kind, referenceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry entities.LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return &entry, true, nil
}

// Put stores an entry until the TTL lapses
func (c *RedisCache) Put(ctx context.Context, entry *entities.LedgerEntry) error {
	if c == nil || c.client == nil {
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(entry.Kind, entry.ReferenceID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
