package ban

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sanctioner is the behaviour shared by both stores.
type sanctioner interface {
	Sanction(ctx context.Context, streamID, userID string, kind Kind, duration time.Duration, reason string) error
	Active(ctx context.Context, streamID, userID string, kind Kind) (bool, time.Duration, string, error)
	Lift(ctx context.Context, streamID, userID string, kind Kind) error
	Clear(ctx context.Context, streamID string) error
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestStore creates a Store backed by an in-process Redis.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mr
}

// harness pairs a store with a way to move its notion of time forward.
type harness struct {
	store   sanctioner
	advance func(time.Duration)
}

func harnesses(t *testing.T) map[string]harness {
	rs, mr := newTestStore(t)
	clock := &fakeClock{t: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	return map[string]harness{
		"redis":  {store: rs, advance: mr.FastForward},
		"memory": {store: NewMemoryStore(clock.Now), advance: clock.Advance},
	}
}

func TestActive_None(t *testing.T) {
	for name, h := range harnesses(t) {
		t.Run(name, func(t *testing.T) {
			active, remaining, reason, err := h.store.Active(context.Background(), "s", "nobody", KindBan)
			require.NoError(t, err)
			assert.False(t, active)
			assert.Zero(t, remaining)
			assert.Empty(t, reason)
		})
	}
}

func TestSanctionAndExpire(t *testing.T) {
	for name, h := range harnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Sanction(ctx, "s", "troll", KindMute, 10*time.Minute, "spam"))

			active, remaining, reason, err := h.store.Active(ctx, "s", "troll", KindMute)
			require.NoError(t, err)
			assert.True(t, active)
			assert.Equal(t, "spam", reason)
			assert.True(t, remaining > 0 && remaining <= 10*time.Minute, "remaining = %s", remaining)

			// kinds are independent
			active, _, _, err = h.store.Active(ctx, "s", "troll", KindBan)
			require.NoError(t, err)
			assert.False(t, active)

			h.advance(10*time.Minute + time.Second)
			active, _, _, err = h.store.Active(ctx, "s", "troll", KindMute)
			require.NoError(t, err)
			assert.False(t, active, "mute should have expired")
		})
	}
}

func TestLift(t *testing.T) {
	for name, h := range harnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Sanction(ctx, "s", "troll", KindBan, time.Hour, "abuse"))
			require.NoError(t, h.store.Lift(ctx, "s", "troll", KindBan))

			active, _, _, err := h.store.Active(ctx, "s", "troll", KindBan)
			require.NoError(t, err)
			assert.False(t, active)
		})
	}
}

func TestClearIsScopedToStream(t *testing.T) {
	for name, h := range harnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Sanction(ctx, "s1", "a", KindBan, time.Hour, "x"))
			require.NoError(t, h.store.Sanction(ctx, "s1", "b", KindMute, time.Hour, "x"))
			require.NoError(t, h.store.Sanction(ctx, "s2", "a", KindBan, time.Hour, "x"))

			require.NoError(t, h.store.Clear(ctx, "s1"))

			active, _, _, _ := h.store.Active(ctx, "s1", "a", KindBan)
			assert.False(t, active)
			active, _, _, _ = h.store.Active(ctx, "s1", "b", KindMute)
			assert.False(t, active)
			active, _, _, _ = h.store.Active(ctx, "s2", "a", KindBan)
			assert.True(t, active)

			assert.NoError(t, h.store.Clear(ctx, "empty"))
		})
	}
}

func TestSanction_RejectsNonPositiveDuration(t *testing.T) {
	for name, h := range harnesses(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, h.store.Sanction(context.Background(), "s", "a", KindMute, 0, "x"))
		})
	}
}

func TestStore_RedisKeyLayout(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.Sanction(context.Background(), "live1", "bob", KindBan, 24*time.Hour, "harassment"))

	got, err := mr.Get("sanction:live1:ban:bob")
	require.NoError(t, err)
	assert.Equal(t, "harassment", got)
	assert.Equal(t, 24*time.Hour, mr.TTL("sanction:live1:ban:bob"))
}
