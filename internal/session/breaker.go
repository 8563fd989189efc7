package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/whisper/stream-moderation/internal/moderation"
)

// BreakerStore guards a remote Store with a circuit breaker. After
// maxFailures consecutive failures calls fail fast with
// gobreaker.ErrOpenState until timeout has passed.
type BreakerStore struct {
	next    Store
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next Store, timeout time.Duration, maxFailures uint32) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "session-store",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &BreakerStore{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerStore) execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", b.breaker.Name(), err)
	}
	return nil
}

func (b *BreakerStore) Load(ctx context.Context, streamID, participantID string) (moderation.State, error) {
	var st moderation.State
	err := b.execute(func() error {
		var err error
		st, err = b.next.Load(ctx, streamID, participantID)
		return err
	})
	return st, err
}

func (b *BreakerStore) Save(ctx context.Context, streamID, participantID string, st moderation.State) error {
	return b.execute(func() error {
		return b.next.Save(ctx, streamID, participantID, st)
	})
}

func (b *BreakerStore) Update(ctx context.Context, streamID, participantID string, fn UpdateFunc) (moderation.State, error) {
	var st moderation.State
	err := b.execute(func() error {
		var err error
		st, err = b.next.Update(ctx, streamID, participantID, fn)
		return err
	})
	return st, err
}

func (b *BreakerStore) Delete(ctx context.Context, streamID, participantID string) error {
	return b.execute(func() error {
		return b.next.Delete(ctx, streamID, participantID)
	})
}

func (b *BreakerStore) Discard(ctx context.Context, streamID string) error {
	return b.execute(func() error {
		return b.next.Discard(ctx, streamID)
	})
}
