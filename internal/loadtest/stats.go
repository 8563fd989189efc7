// Package loadtest holds the measurement side of the moderator load test:
// a client-side collector of request outcomes and latencies, and a scraper
// of the moderator's own Prometheus metrics.
package loadtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Outcome is the moderation verdict class of one request.
type Outcome int

const (
	OutcomeClean Outcome = iota
	OutcomeFlagged
	OutcomeBanned
	OutcomeThrottled
)

// Collector aggregates results from many load test clients. All methods are
// goroutine-safe.
type Collector struct {
	mu        sync.Mutex
	latencies []time.Duration
	outcomes  map[Outcome]int
	errors    int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now(), outcomes: make(map[Outcome]int)}
}

// SetScraper attaches a metrics scraper whose report is appended to ours.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddResult records one answered request.
func (c *Collector) AddResult(o Outcome, latency time.Duration) {
	c.mu.Lock()
	c.latencies = append(c.latencies, latency)
	c.outcomes[o]++
	c.mu.Unlock()
}

// AddError records a request that got no answer.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Percentiles summarizes a latency distribution.
type Percentiles struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summary is a point-in-time view of the collector.
type Summary struct {
	Elapsed   time.Duration
	Requests  int
	Errors    int
	Clean     int
	Flagged   int
	Banned    int
	Throttled int
	Latency   Percentiles
}

// Summary computes the current totals and latency percentiles.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Summary{
		Elapsed:   time.Since(c.startTime),
		Requests:  len(c.latencies) + c.errors,
		Errors:    c.errors,
		Clean:     c.outcomes[OutcomeClean],
		Flagged:   c.outcomes[OutcomeFlagged],
		Banned:    c.outcomes[OutcomeBanned],
		Throttled: c.outcomes[OutcomeThrottled],
		Latency:   percentiles(c.latencies),
	}
}

// Report writes a formatted summary to w.
func (c *Collector) Report(w io.Writer) {
	s := c.Summary()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", s.Elapsed.Round(time.Second))
	fmt.Fprintf(w, "Requests:     %d\n", s.Requests)
	fmt.Fprintf(w, "Errors:       %d\n", s.Errors)
	if s.Requests > 0 {
		fmt.Fprintf(w, "Error rate:   %.2f%%\n", float64(s.Errors)/float64(s.Requests)*100)
		fmt.Fprintf(w, "Throughput:   %.1f req/s\n", float64(s.Requests)/s.Elapsed.Seconds())
	}
	fmt.Fprintf(w, "Verdicts:     clean=%d flagged=%d banned=%d throttled=%d\n",
		s.Clean, s.Flagged, s.Banned, s.Throttled)

	if s.Latency.N > 0 {
		p := s.Latency
		fmt.Fprintln(w, "\n--- Check Latency ---")
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			p.Avg.Round(time.Microsecond),
			p.P50.Round(time.Microsecond),
			p.P95.Round(time.Microsecond),
			p.P99.Round(time.Microsecond),
			p.Max.Round(time.Microsecond),
			p.N,
		)
	}

	c.mu.Lock()
	scraper := c.scraper
	c.mu.Unlock()
	if scraper != nil {
		scraper.Report(w)
	}
	fmt.Fprintln(w)
}

func percentiles(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}
	sorted := make([]time.Duration, n)
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Percentiles{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: sorted[n/2],
		P95: sorted[int(math.Ceil(float64(n)*0.95))-1],
		P99: sorted[int(math.Ceil(float64(n)*0.99))-1],
		Max: sorted[n-1],
	}
}
