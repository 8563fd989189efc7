// Package history keeps the most recent flagged messages of each stream so
// the streamer console can show what the filter caught.
package history

import "sync"

// MaxEntries is the number of flagged messages retained per stream.
const MaxEntries = 20

// Entry is one flagged message.
type Entry struct {
	RequestID     string `json:"requestId"`
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
	Category      string `json:"category"`
	Severity      int    `json:"severity"`
	Reason        string `json:"reason"`
	Ts            int64  `json:"ts"` // unix milliseconds
}

// Buffer stores the last MaxEntries flagged messages per stream in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Buffer struct {
	mu      sync.RWMutex
	streams map[string]*ring
}

type ring struct {
	items [MaxEntries]Entry
	pos   int
	count int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{streams: make(map[string]*ring)}
}

// Add appends an entry to the stream's ring, overwriting the oldest entry
// when full.
func (b *Buffer) Add(streamID string, e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.streams[streamID]
	if !ok {
		r = &ring{}
		b.streams[streamID] = r
	}
	r.items[r.pos] = e
	r.pos = (r.pos + 1) % MaxEntries
	if r.count < MaxEntries {
		r.count++
	}
}

// Recent returns the stream's entries, oldest first. Returns an empty slice
// for an unknown stream.
func (b *Buffer) Recent(streamID string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.streams[streamID]
	if !ok {
		return []Entry{}
	}
	out := make([]Entry, r.count)
	start := (r.pos - r.count + MaxEntries) % MaxEntries
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%MaxEntries]
	}
	return out
}

// Remove drops the stream's entries (called when the stream ends).
func (b *Buffer) Remove(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, streamID)
}

// Reset drops every stream.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.streams = make(map[string]*ring)
	b.mu.Unlock()
}
