package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/whisper/stream-moderation/internal/moderation"
	"go.uber.org/zap"
)

// ErrClosed is returned when a closed stream handle is used.
var ErrClosed = errors.New("session: stream closed")

// Registry hands out stream handles and tracks which streams are open.
type Registry struct {
	engine *moderation.Engine
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewRegistry creates a Registry that checks messages with engine and keeps
// state in store.
func NewRegistry(engine *moderation.Engine, store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		engine:  engine,
		store:   store,
		logger:  logger,
		streams: make(map[string]*Stream),
	}
}

// Open returns the handle for streamID, opening it if needed. The caller that
// ends the stream must Close the handle.
func (r *Registry) Open(streamID string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[streamID]; ok {
		return s
	}
	s := &Stream{
		id:     streamID,
		reg:    r,
		locks:  make(map[string]*sync.Mutex),
		opened: time.Now(),
	}
	r.streams[streamID] = s
	r.logger.Info("stream opened", zap.String("stream", streamID))
	return s
}

// Get returns the handle for an open stream.
func (r *Registry) Get(streamID string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[streamID]
	return s, ok
}

// Engine returns the engine shared by every stream.
func (r *Registry) Engine() *moderation.Engine {
	return r.engine
}

// Len returns the number of open streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll closes every open stream. Errors are joined.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	open := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		open = append(open, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) forget(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.streams[s.id]; ok && cur == s {
		delete(r.streams, s.id)
	}
}

// Stream is the moderation handle for one live broadcast. Checks for the
// same participant are serialized in arrival order; different participants
// proceed independently.
type Stream struct {
	id     string
	reg    *Registry
	opened time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// ID returns the stream identifier.
func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) participant(participantID string) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	l, ok := s.locks[participantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[participantID] = l
	}
	return l, nil
}

// Check runs the engine for one message from participantID, stores the
// participant's next state and returns it with the verdict.
func (s *Stream) Check(ctx context.Context, participantID, message string, now time.Time) (moderation.Verdict, moderation.State, error) {
	l, err := s.participant(participantID)
	if err != nil {
		return moderation.Verdict{}, moderation.State{}, err
	}
	l.Lock()
	defer l.Unlock()

	var (
		st      moderation.State
		verdict moderation.Verdict
	)
	next, err := s.reg.store.Update(ctx, s.id, participantID, func(cur moderation.State) moderation.State {
		st = cur
		var n moderation.State
		verdict, n = s.reg.engine.Check(message, cur, now)
		return n
	})
	if err != nil {
		return verdict, next, err
	}
	if next.IsBanned && !st.IsBanned {
		s.reg.logger.Info("participant banned",
			zap.String("stream", s.id),
			zap.String("participant", participantID),
			zap.Time("ban_until", next.BanUntil),
			zap.String("category", string(verdict.Category)),
		)
	}
	return verdict, next, nil
}

// State returns the stored state of a participant.
func (s *Stream) State(ctx context.Context, participantID string) (moderation.State, error) {
	l, err := s.participant(participantID)
	if err != nil {
		return moderation.State{}, err
	}
	l.Lock()
	defer l.Unlock()
	return s.reg.store.Load(ctx, s.id, participantID)
}

// Leave discards one participant's state, e.g. when a viewer leaves. The
// participant's lock stays registered until Close.
func (s *Stream) Leave(ctx context.Context, participantID string) error {
	l, err := s.participant(participantID)
	if err != nil {
		return err
	}
	l.Lock()
	defer l.Unlock()
	return s.reg.store.Delete(ctx, s.id, participantID)
}

// Close ends the stream and discards all of its state. Close is idempotent;
// every later call on the handle returns ErrClosed.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.locks = nil
	s.mu.Unlock()

	s.reg.forget(s)
	if err := s.reg.store.Discard(ctx, s.id); err != nil {
		return fmt.Errorf("session: close %s: %w", s.id, err)
	}
	s.reg.logger.Info("stream closed",
		zap.String("stream", s.id),
		zap.Duration("open_for", time.Since(s.opened)),
	)
	return nil
}
