package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/whisper/stream-moderation/internal/moderation"
)

const (
	// StatePrefix is the Redis key prefix for participant state hashes:
	// modstate:<stream>:<participant>.
	StatePrefix = "modstate:"

	// StreamPrefix is the Redis key prefix for the per-stream participant
	// index: modstream:<stream>.
	StreamPrefix = "modstream:"

	// StateTTL bounds how long state outlives the last write, so a stream
	// that is never closed cleanly still gets discarded.
	StateTTL = 6 * time.Hour

	// maxUpdateAttempts bounds the optimistic retries of RedisStore.Update.
	maxUpdateAttempts = 16
)

// ErrConflict is returned when an Update kept losing to concurrent writers.
var ErrConflict = errors.New("session: state update conflict")

// UpdateFunc computes a participant's next state from the current one. It
// may be called more than once per Update and must not have side effects
// beyond its return value.
type UpdateFunc func(moderation.State) moderation.State

// Store persists moderation state for the lifetime of a stream.
type Store interface {
	Load(ctx context.Context, streamID, participantID string) (moderation.State, error)
	Save(ctx context.Context, streamID, participantID string, st moderation.State) error
	// Update applies fn to the stored state and saves the result. No other
	// write to the same participant lands between the read and the write,
	// including writes from other processes sharing the store.
	Update(ctx context.Context, streamID, participantID string, fn UpdateFunc) (moderation.State, error)
	Delete(ctx context.Context, streamID, participantID string) error
	Discard(ctx context.Context, streamID string) error
}

// MemoryStore keeps state in process memory. It is goroutine-safe.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]map[string]moderation.State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string]map[string]moderation.State)}
}

// Load returns the participant's state, or a fresh State if none exists.
func (m *MemoryStore) Load(_ context.Context, streamID, participantID string) (moderation.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[streamID][participantID], nil
}

// Save stores the participant's state.
func (m *MemoryStore) Save(_ context.Context, streamID, participantID string, st moderation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	participants, ok := m.streams[streamID]
	if !ok {
		participants = make(map[string]moderation.State)
		m.streams[streamID] = participants
	}
	participants[participantID] = st
	return nil
}

// Update applies fn under the store's write lock.
func (m *MemoryStore) Update(_ context.Context, streamID, participantID string, fn UpdateFunc) (moderation.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.streams[streamID][participantID]
	next := fn(cur)
	if next == cur {
		return next, nil
	}
	participants, ok := m.streams[streamID]
	if !ok {
		participants = make(map[string]moderation.State)
		m.streams[streamID] = participants
	}
	participants[participantID] = next
	return next, nil
}

// Delete forgets one participant.
func (m *MemoryStore) Delete(_ context.Context, streamID, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.streams[streamID], participantID)
	return nil
}

// Discard forgets every participant of a stream.
func (m *MemoryStore) Discard(_ context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.streams, streamID)
	return nil
}

// redisState is the hash layout of one participant's state. Times are unix
// milliseconds, 0 meaning unset.
type redisState struct {
	WarningCount    int   `redis:"warning_count"`
	IsBanned        bool  `redis:"is_banned"`
	BanUntil        int64 `redis:"ban_until"`
	LastViolationAt int64 `redis:"last_violation_at"`
}

// RedisStore keeps state in Redis hashes with a TTL, indexed per stream so a
// whole stream can be discarded at once.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore using the provided client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(streamID, participantID string) string {
	return StatePrefix + streamID + ":" + participantID
}

func streamKey(streamID string) string {
	return StreamPrefix + streamID
}

// Load returns the participant's state, or a fresh State if none exists.
func (s *RedisStore) Load(ctx context.Context, streamID, participantID string) (moderation.State, error) {
	st, err := loadState(ctx, s.client, stateKey(streamID, participantID))
	if err != nil {
		return moderation.State{}, fmt.Errorf("session: load %s/%s: %w", streamID, participantID, err)
	}
	return st, nil
}

// Save writes the participant's state and refreshes the TTLs.
func (s *RedisStore) Save(ctx context.Context, streamID, participantID string, st moderation.State) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeState(ctx, pipe, streamID, participantID, st)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: save %s/%s: %w", streamID, participantID, err)
	}
	return nil
}

// Update reads, applies fn and writes inside WATCH/MULTI on the state key,
// retrying when another client changed the key in between.
func (s *RedisStore) Update(ctx context.Context, streamID, participantID string, fn UpdateFunc) (moderation.State, error) {
	key := stateKey(streamID, participantID)

	var next moderation.State
	txf := func(tx *redis.Tx) error {
		cur, err := loadState(ctx, tx, key)
		if err != nil {
			return err
		}
		next = fn(cur)
		if next == cur {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeState(ctx, pipe, streamID, participantID, next)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return moderation.State{}, fmt.Errorf("session: update %s/%s: %w", streamID, participantID, err)
		}
	}
	return moderation.State{}, fmt.Errorf("session: update %s/%s: %w", streamID, participantID, ErrConflict)
}

func loadState(ctx context.Context, c redis.Cmdable, key string) (moderation.State, error) {
	var rs redisState
	if err := c.HGetAll(ctx, key).Scan(&rs); err != nil {
		return moderation.State{}, err
	}
	return moderation.State{
		WarningCount:    rs.WarningCount,
		IsBanned:        rs.IsBanned,
		BanUntil:        fromMillis(rs.BanUntil),
		LastViolationAt: fromMillis(rs.LastViolationAt),
	}, nil
}

func writeState(ctx context.Context, pipe redis.Pipeliner, streamID, participantID string, st moderation.State) {
	key := stateKey(streamID, participantID)
	idx := streamKey(streamID)
	pipe.HSet(ctx, key, map[string]interface{}{
		"warning_count":     st.WarningCount,
		"is_banned":         st.IsBanned,
		"ban_until":         toMillis(st.BanUntil),
		"last_violation_at": toMillis(st.LastViolationAt),
	})
	pipe.Expire(ctx, key, StateTTL)
	pipe.SAdd(ctx, idx, participantID)
	pipe.Expire(ctx, idx, StateTTL)
}

// Delete removes one participant's state.
func (s *RedisStore) Delete(ctx context.Context, streamID, participantID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, stateKey(streamID, participantID))
	pipe.SRem(ctx, streamKey(streamID), participantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: delete %s/%s: %w", streamID, participantID, err)
	}
	return nil
}

// Discard removes every participant's state for a stream, plus the index.
func (s *RedisStore) Discard(ctx context.Context, streamID string) error {
	idx := streamKey(streamID)
	members, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("session: discard %s: %w", streamID, err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, p := range members {
		keys = append(keys, stateKey(streamID, p))
	}
	keys = append(keys, idx)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("session: discard %s: %w", streamID, err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
