// Package report tracks viewer reports against chat participants. Reports
// live only as long as the stream: each reported participant has a set of
// distinct reporters,
//
//	Key:   reports:<stream>:<participant>
//	Value: SET of reporter IDs
//	TTL:   ReportsTTL from the first report
//
// so repeated reports from one viewer count once.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ReportsPrefix is the Redis key prefix for report sets.
	ReportsPrefix = "reports:"

	// ReportsTTL bounds how long reports count against a participant.
	ReportsTTL = 6 * time.Hour

	// AutoMuteThreshold is the number of distinct reporters that mutes a
	// participant.
	AutoMuteThreshold = 3
)

// validReasons is the set of allowed reason values.
var validReasons = map[string]bool{
	"inappropriate_content": true,
	"harassment":            true,
	"spam":                  true,
	"illegal_activity":      true,
	"hate_speech":           true,
	"copyright":             true,
	"other":                 true,
}

// Report is one viewer's report against a participant.
type Report struct {
	StreamID    string `json:"streamId"`
	ReporterID  string `json:"reporterId"`
	ReportedID  string `json:"reportedId"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
}

// Validate checks the report before it is counted.
func (r Report) Validate() error {
	switch {
	case r.StreamID == "" || r.ReporterID == "" || r.ReportedID == "":
		return fmt.Errorf("report: streamId, reporterId and reportedId are required")
	case r.ReporterID == r.ReportedID:
		return fmt.Errorf("report: cannot report yourself")
	case !validReasons[r.Reason]:
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}
	return nil
}

func reportsKey(streamID, reportedID string) string {
	return ReportsPrefix + streamID + ":" + reportedID
}

// Store manages report sets in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new report store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Add records reporterID's report against reportedID and returns the number
// of distinct reporters so far.
func (s *Store) Add(ctx context.Context, streamID, reportedID, reporterID string) (int, error) {
	key := reportsKey(streamID, reportedID)

	added, err := s.client.SAdd(ctx, key, reporterID).Result()
	if err != nil {
		return 0, fmt.Errorf("report: sadd: %w", err)
	}
	count, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("report: scard: %w", err)
	}

	// The window opens with the first report and does not slide.
	if added == 1 && count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return 0, fmt.Errorf("report: expire: %w", err)
		}
	}
	return int(count), nil
}

// Clear removes every report of a stream.
func (s *Store) Clear(ctx context.Context, streamID string) error {
	iter := s.client.Scan(ctx, 0, ReportsPrefix+streamID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("report: clear scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("report: clear del: %w", err)
	}
	return nil
}

// MemoryStore keeps report sets in process.
type MemoryStore struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string]map[string]struct{})}
}

// Add records reporterID's report against reportedID and returns the number
// of distinct reporters so far.
func (m *MemoryStore) Add(_ context.Context, streamID, reportedID, reporterID string) (int, error) {
	key := reportsKey(streamID, reportedID)

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[reporterID] = struct{}{}
	return len(set), nil
}

// Clear removes every report of a stream.
func (m *MemoryStore) Clear(_ context.Context, streamID string) error {
	prefix := ReportsPrefix + streamID + ":"

	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.sets {
		if strings.HasPrefix(key, prefix) {
			delete(m.sets, key)
		}
	}
	return nil
}
