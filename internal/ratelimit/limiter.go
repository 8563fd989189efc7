// Package ratelimit throttles chat submissions with a Redis INCR + EXPIRE
// fixed window. Counters are scoped per stream and participant so a noisy
// viewer in one stream never affects another.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:chat:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleChat allows 5 chat messages per 10 seconds per participant per stream.
var RuleChat = Rule{Key: "rl:chat:", Limit: 5, Window: 10 * time.Second}

// Identifier builds the counter identifier for a participant in a stream.
func Identifier(streamID, participantID string) string {
	return streamID + ":" + participantID
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, logger: logger}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limit INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("rate limit EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Reset clears every counter of a stream, used when the stream ends.
func (l *Limiter) Reset(ctx context.Context, streamID string, rule Rule) error {
	iter := l.client.Scan(ctx, 0, rule.Key+streamID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return l.client.Del(ctx, keys...).Err()
}
