// Package controls implements the streamer's moderation console for one
// stream: manual mutes and bans, moderator assignment, pinned messages and
// deleted messages.
//
// Timed sanctions are written through a Sanctions store so they can be shared
// with other instances (see package ban). Expiry is evaluated lazily against
// the console's clock; nothing runs in the background.
package controls

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whisper/stream-moderation/internal/ban"
)

const (
	DefaultMuteDuration = 10 * time.Minute
	BanDuration         = 24 * time.Hour
)

// Sanctions stores timed mutes and bans. *ban.Store and *ban.MemoryStore
// satisfy it.
type Sanctions interface {
	Sanction(ctx context.Context, streamID, userID string, kind ban.Kind, duration time.Duration, reason string) error
	Active(ctx context.Context, streamID, userID string, kind ban.Kind) (bool, time.Duration, string, error)
	Lift(ctx context.Context, streamID, userID string, kind ban.Kind) error
	Clear(ctx context.Context, streamID string) error
}

// Status is a user's standing in the stream chat.
type Status string

const (
	StatusActive Status = "active"
	StatusMuted  Status = "muted"
	StatusBanned Status = "banned"
)

// User is the console's view of a participant the streamer has acted on.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Status      Status    `json:"status"`
	IsModerator bool      `json:"isModerator"`
	MutedUntil  time.Time `json:"mutedUntil,omitempty"`
	BannedUntil time.Time `json:"bannedUntil,omitempty"`
}

// PinnedMessage is the message shown above the chat.
type PinnedMessage struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	PinnedAt time.Time `json:"timestamp"`
}

// Option configures Controls.
type Option func(*Controls)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controls) { c.now = now }
}

// Controls is the moderation console of one stream. It is safe for
// concurrent use.
type Controls struct {
	streamID  string
	sanctions Sanctions
	now       func() time.Time

	mu      sync.Mutex
	users   map[string]*User
	pinned  *PinnedMessage
	deleted map[string]struct{}
}

// New creates the console for streamID. A nil sanctions store means an
// in-memory one driven by the console clock.
func New(streamID string, sanctions Sanctions, opts ...Option) *Controls {
	c := &Controls{
		streamID: streamID,
		now:      time.Now,
		users:    make(map[string]*User),
		deleted:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if sanctions == nil {
		sanctions = ban.NewMemoryStore(c.now)
	}
	c.sanctions = sanctions
	return c
}

// StreamID returns the stream the console belongs to.
func (c *Controls) StreamID() string {
	return c.streamID
}

// user returns the record for userID, creating it if needed. c.mu must be held.
func (c *Controls) user(userID, username string) *User {
	u, ok := c.users[userID]
	if !ok {
		u = &User{ID: userID, Username: username, Status: StatusActive}
		c.users[userID] = u
	}
	if username != "" {
		u.Username = username
	}
	return u
}

// Mute silences userID for d. A non-positive d means DefaultMuteDuration.
// Muting replaces an existing ban.
func (c *Controls) Mute(ctx context.Context, userID, username string, d time.Duration) error {
	if d <= 0 {
		d = DefaultMuteDuration
	}
	if err := c.sanctions.Sanction(ctx, c.streamID, userID, ban.KindMute, d, "muted by streamer"); err != nil {
		return fmt.Errorf("controls: mute %s: %w", userID, err)
	}
	if err := c.sanctions.Lift(ctx, c.streamID, userID, ban.KindBan); err != nil {
		return fmt.Errorf("controls: mute %s: %w", userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.user(userID, username)
	u.Status = StatusMuted
	u.MutedUntil = c.now().Add(d)
	u.BannedUntil = time.Time{}
	return nil
}

// Ban removes userID from the chat for BanDuration. Banning replaces an
// existing mute.
func (c *Controls) Ban(ctx context.Context, userID, username string) error {
	if err := c.sanctions.Sanction(ctx, c.streamID, userID, ban.KindBan, BanDuration, "banned by streamer"); err != nil {
		return fmt.Errorf("controls: ban %s: %w", userID, err)
	}
	if err := c.sanctions.Lift(ctx, c.streamID, userID, ban.KindMute); err != nil {
		return fmt.Errorf("controls: ban %s: %w", userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.user(userID, username)
	u.Status = StatusBanned
	u.BannedUntil = c.now().Add(BanDuration)
	u.MutedUntil = time.Time{}
	return nil
}

// AssignModerator makes userID a moderator and lifts any sanction on them.
func (c *Controls) AssignModerator(ctx context.Context, userID, username string) error {
	for _, kind := range []ban.Kind{ban.KindMute, ban.KindBan} {
		if err := c.sanctions.Lift(ctx, c.streamID, userID, kind); err != nil {
			return fmt.Errorf("controls: assign moderator %s: %w", userID, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.user(userID, username)
	u.IsModerator = true
	u.Status = StatusActive
	u.MutedUntil = time.Time{}
	u.BannedUntil = time.Time{}
	return nil
}

// Pin replaces the pinned message.
func (c *Controls) Pin(messageID, username, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = &PinnedMessage{
		ID:       messageID,
		Username: username,
		Message:  message,
		PinnedAt: c.now(),
	}
}

// Unpin clears the pinned message.
func (c *Controls) Unpin() {
	c.mu.Lock()
	c.pinned = nil
	c.mu.Unlock()
}

// Pinned returns the pinned message, if any.
func (c *Controls) Pinned() (PinnedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned == nil {
		return PinnedMessage{}, false
	}
	return *c.pinned, true
}

// DeleteMessage hides a message from the chat. Deleting the pinned message
// also unpins it.
func (c *Controls) DeleteMessage(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[messageID] = struct{}{}
	if c.pinned != nil && c.pinned.ID == messageID {
		c.pinned = nil
	}
}

// IsMessageDeleted reports whether messageID was deleted.
func (c *Controls) IsMessageDeleted(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.deleted[messageID]
	return ok
}

// DeletedMessages returns the IDs of deleted messages in ascending order.
func (c *Controls) DeletedMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.deleted))
	for id := range c.deleted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMuted reports whether userID is currently muted.
func (c *Controls) IsMuted(ctx context.Context, userID string) (bool, error) {
	active, _, _, err := c.sanctions.Active(ctx, c.streamID, userID, ban.KindMute)
	if err != nil {
		return false, fmt.Errorf("controls: mute status %s: %w", userID, err)
	}
	return active, nil
}

// IsBanned reports whether userID is currently banned.
func (c *Controls) IsBanned(ctx context.Context, userID string) (bool, error) {
	active, _, _, err := c.sanctions.Active(ctx, c.streamID, userID, ban.KindBan)
	if err != nil {
		return false, fmt.Errorf("controls: ban status %s: %w", userID, err)
	}
	return active, nil
}

// IsModerator reports whether userID was made a moderator.
func (c *Controls) IsModerator(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	return ok && u.IsModerator
}

// Users lists every user the streamer has acted on, ordered by ID. Expired
// mutes and bans are reported as active.
func (c *Controls) Users() []User {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]User, 0, len(c.users))
	for _, u := range c.users {
		switch {
		case u.Status == StatusMuted && !now.Before(u.MutedUntil):
			u.Status = StatusActive
			u.MutedUntil = time.Time{}
		case u.Status == StatusBanned && !now.Before(u.BannedUntil):
			u.Status = StatusActive
			u.BannedUntil = time.Time{}
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear drops all moderation data of the stream.
func (c *Controls) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.users = make(map[string]*User)
	c.pinned = nil
	c.deleted = make(map[string]struct{})
	c.mu.Unlock()

	if err := c.sanctions.Clear(ctx, c.streamID); err != nil {
		return fmt.Errorf("controls: clear %s: %w", c.streamID, err)
	}
	return nil
}
