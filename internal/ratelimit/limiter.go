// Package ratelimit provides Redis-backed rate limiting using the
// INCR + EXPIRE fixed-window algorithm, throttling per-connection message
// and match-request rates. A nil limiter (Redis not configured) allows
// everything, and Redis errors fail open so an outage never blocks
// legitimate traffic.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one rate limiting policy: the Redis key prefix, the
// maximum count in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 20 chat messages per 10 seconds per connection.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleMatch allows 15 match requests per minute per connection.
	RuleMatch = Rule{Key: "rl:match:", Limit: 15, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the identifier is within the limit defined by
// rule, incrementing its counter. A nil limiter always allows.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}

	// The first increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would throttle the
			// identifier forever. Best effort: remove it.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}

// Reset clears the counter for an identifier under the given rule. Used
// when a connection terminates so a reconnecting client starts fresh.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) {
	if l == nil || l.client == nil {
		return
	}
	l.client.Del(ctx, rule.Key+identifier)
}
