package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whisper/stream-moderation/internal/moderation"
)

// newTestRedisStore starts an in-process Redis and returns a store bound to it.
func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newTestRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStore_LoadMissingIsFresh(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := store.Load(context.Background(), "stream1", "nobody")
			require.NoError(t, err)
			assert.Equal(t, moderation.State{}, st)
		})
	}
}

func TestStore_SaveLoad(t *testing.T) {
	banUntil := time.Date(2026, 3, 14, 20, 10, 0, 0, time.UTC)
	last := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	want := moderation.State{WarningCount: 0, IsBanned: true, BanUntil: banUntil, LastViolationAt: last}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "stream1", "alice", want))

			got, err := store.Load(ctx, "stream1", "alice")
			require.NoError(t, err)
			assert.Equal(t, want.WarningCount, got.WarningCount)
			assert.Equal(t, want.IsBanned, got.IsBanned)
			assert.True(t, want.BanUntil.Equal(got.BanUntil), "BanUntil = %v, want %v", got.BanUntil, want.BanUntil)
			assert.True(t, want.LastViolationAt.Equal(got.LastViolationAt))

			other, err := store.Load(ctx, "stream2", "alice")
			require.NoError(t, err)
			assert.Equal(t, moderation.State{}, other, "state must not leak across streams")
		})
	}
}

func TestStore_DeleteAndDiscard(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "s", "a", moderation.State{WarningCount: 1}))
			require.NoError(t, store.Save(ctx, "s", "b", moderation.State{WarningCount: 2}))
			require.NoError(t, store.Save(ctx, "other", "a", moderation.State{WarningCount: 1}))

			require.NoError(t, store.Delete(ctx, "s", "a"))
			st, _ := store.Load(ctx, "s", "a")
			assert.Equal(t, 0, st.WarningCount)
			st, _ = store.Load(ctx, "s", "b")
			assert.Equal(t, 2, st.WarningCount)

			require.NoError(t, store.Discard(ctx, "s"))
			st, _ = store.Load(ctx, "s", "b")
			assert.Equal(t, moderation.State{}, st)

			st, _ = store.Load(ctx, "other", "a")
			assert.Equal(t, 1, st.WarningCount, "discard must only touch its own stream")

			// discarding an unknown stream is a no-op
			assert.NoError(t, store.Discard(ctx, "never-opened"))
		})
	}
}

func TestRedisStore_KeysAndTTL(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "live42", "bob", moderation.State{WarningCount: 1}))

	assert.True(t, mr.Exists(StatePrefix+"live42:bob"))
	assert.Equal(t, StateTTL, mr.TTL(StatePrefix+"live42:bob"))
	members, err := mr.Members(StreamPrefix + "live42")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)

	mr.FastForward(StateTTL + time.Second)
	st, err := store.Load(ctx, "live42", "bob")
	require.NoError(t, err)
	assert.Equal(t, moderation.State{}, st)

	require.NoError(t, store.Save(ctx, "live42", "bob", moderation.State{WarningCount: 1}))
	require.NoError(t, store.Discard(ctx, "live42"))
	assert.False(t, mr.Exists(StatePrefix+"live42:bob"))
	assert.False(t, mr.Exists(StreamPrefix+"live42"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.Load(context.Background(), "s", "a")
	assert.Error(t, err)
	assert.Error(t, store.Save(context.Background(), "s", "a", moderation.State{}))
}

func TestStore_UpdateAppliesAndSkipsNoop(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

			st, err := store.Update(ctx, "stream1", "alice", func(cur moderation.State) moderation.State {
				assert.Equal(t, moderation.State{}, cur)
				cur.WarningCount = 1
				cur.LastViolationAt = at
				return cur
			})
			require.NoError(t, err)
			assert.Equal(t, 1, st.WarningCount)

			st, err = store.Update(ctx, "stream1", "alice", func(cur moderation.State) moderation.State {
				return cur
			})
			require.NoError(t, err)
			assert.Equal(t, 1, st.WarningCount)
			assert.True(t, at.Equal(st.LastViolationAt))

			got, err := store.Load(ctx, "stream1", "alice")
			require.NoError(t, err)
			assert.Equal(t, 1, got.WarningCount)
		})
	}
}

func TestStore_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 8

			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Update(ctx, "stream1", "alice", func(cur moderation.State) moderation.State {
						cur.WarningCount++
						return cur
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			st, err := store.Load(ctx, "stream1", "alice")
			require.NoError(t, err)
			assert.Equal(t, writers, st.WarningCount)
		})
	}
}

func TestRedisStore_UpdateGivesUpAfterConflicts(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	calls := 0
	_, err := store.Update(ctx, "stream1", "alice", func(cur moderation.State) moderation.State {
		calls++
		// Another writer touches the watched key before EXEC.
		mr.HSet(stateKey("stream1", "alice"), "warning_count", "9")
		cur.WarningCount++
		return cur
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, maxUpdateAttempts, calls)
}
