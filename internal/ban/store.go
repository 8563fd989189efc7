// Package ban provides timed chat sanctions (mutes and bans) imposed by a
// streamer or their moderators. Records are scoped to one stream and expire
// on their own:
//
//	Key:   sanction:<stream>:<kind>:<user>
//	Value: <reason>
//	TTL:   sanction duration
package ban

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind is the type of sanction.
type Kind string

const (
	KindMute Kind = "mute"
	KindBan  Kind = "ban"
)

// SanctionPrefix is the Redis key prefix for sanction records.
const SanctionPrefix = "sanction:"

func sanctionKey(streamID string, kind Kind, userID string) string {
	return SanctionPrefix + streamID + ":" + string(kind) + ":" + userID
}

// Store manages sanction records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new sanction store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Sanction imposes a sanction of kind on userID for duration.
func (s *Store) Sanction(ctx context.Context, streamID, userID string, kind Kind, duration time.Duration, reason string) error {
	if duration <= 0 {
		return fmt.Errorf("ban: non-positive duration %s", duration)
	}
	return s.client.Set(ctx, sanctionKey(streamID, kind, userID), reason, duration).Err()
}

// Active checks whether userID currently has a sanction of kind.
// Returns (active, remaining, reason, error). Redis errors are returned so
// callers can decide how to handle them (the recommended policy is
// fail-open).
func (s *Store) Active(ctx context.Context, streamID, userID string, kind Kind) (bool, time.Duration, string, error) {
	key := sanctionKey(streamID, kind, userID)

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		// The sanction exists but its TTL is unreadable. Report it active
		// with 0 remaining rather than swallowing it.
		return true, 0, reason, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, reason, nil
}

// Lift removes a sanction immediately.
func (s *Store) Lift(ctx context.Context, streamID, userID string, kind Kind) error {
	return s.client.Del(ctx, sanctionKey(streamID, kind, userID)).Err()
}

// Clear removes every sanction of a stream.
func (s *Store) Clear(ctx context.Context, streamID string) error {
	iter := s.client.Scan(ctx, 0, SanctionPrefix+streamID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("ban: clear scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ban: clear del: %w", err)
	}
	return nil
}

// MemoryStore is an in-process sanction store for single-instance use and
// tests. Expiry is evaluated against the injected clock.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	streamID string
	until    time.Time
	reason   string
}

// NewMemoryStore creates a MemoryStore. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, records: make(map[string]memoryRecord)}
}

// Sanction imposes a sanction of kind on userID for duration.
func (m *MemoryStore) Sanction(_ context.Context, streamID, userID string, kind Kind, duration time.Duration, reason string) error {
	if duration <= 0 {
		return fmt.Errorf("ban: non-positive duration %s", duration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sanctionKey(streamID, kind, userID)] = memoryRecord{
		streamID: streamID,
		until:    m.now().Add(duration),
		reason:   reason,
	}
	return nil
}

// Active checks whether userID currently has a sanction of kind. Expired
// records are dropped on the way.
func (m *MemoryStore) Active(_ context.Context, streamID, userID string, kind Kind) (bool, time.Duration, string, error) {
	key := sanctionKey(streamID, kind, userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return false, 0, "", nil
	}
	remaining := rec.until.Sub(m.now())
	if remaining <= 0 {
		delete(m.records, key)
		return false, 0, "", nil
	}
	return true, remaining, rec.reason, nil
}

// Lift removes a sanction immediately.
func (m *MemoryStore) Lift(_ context.Context, streamID, userID string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sanctionKey(streamID, kind, userID))
	return nil
}

// Clear removes every sanction of a stream.
func (m *MemoryStore) Clear(_ context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.streamID == streamID {
			delete(m.records, key)
		}
	}
	return nil
}
