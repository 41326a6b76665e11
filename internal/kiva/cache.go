package kiva

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageCache keeps raw gateway pages in Redis so back-to-back screenings
// inside the TTL window do not re-hit the gateway. Every cache failure
// degrades to a live fetch.
type PageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPageCacheFromEnv builds a cache from REDIS_ADDR and KIVA_CACHE_TTL.
// It returns nil when REDIS_ADDR is unset; callers treat a nil cache as
// fetch-through.
func NewPageCacheFromEnv() *PageCache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}

	ttl := 10 * time.Minute
	if raw := os.Getenv("KIVA_CACHE_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	log.Printf("[Kiva] Page cache enabled at %s (ttl %s)", addr, ttl)
	return &PageCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// cacheKey hashes the full request payload, so any change to the query,
// filters or page lands on a fresh key.
func cacheKey(payload []byte) string {
	sum := sha1.Sum(payload)
	return "kiva:page:" + hex.EncodeToString(sum[:])
}

func (c *PageCache) Get(ctx context.Context, payload []byte) ([]byte, bool) {
	val, err := c.client.Get(ctx, cacheKey(payload)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[Kiva] Cache read failed: %v", err)
		}
		return nil, false
	}
	return val, true
}

func (c *PageCache) Set(ctx context.Context, payload, body []byte) {
	if err := c.client.Set(ctx, cacheKey(payload), body, c.ttl).Err(); err != nil {
		log.Printf("[Kiva] Cache write failed: %v", err)
	}
}
