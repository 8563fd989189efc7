package loadtest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// snapshot holds the moderator metrics at one point in time.
type snapshot struct {
	timestamp   time.Time
	verdicts    float64
	flagged     float64
	bans        float64
	throttled   float64
	openStreams float64
	// histogram _sum and _count, for averages
	latencySum   float64
	latencyCount float64
}

// Scraper periodically fetches the moderator's Prometheus metrics and keeps
// snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration
	client     *http.Client

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx
// is done or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the scraper and waits for its final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// the moderator may not be up yet
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch() (snapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("scrape %s: %s", s.metricsURL, resp.Status)
	}
	return parseSnapshot(resp.Body)
}

func parseSnapshot(r io.Reader) (snapshot, error) {
	snap := snapshot{timestamp: time.Now()}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name, labels, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "moderation_verdicts_total":
			// one series per category and severity
			snap.verdicts += value
			if !strings.Contains(labels, `severity="0"`) {
				snap.flagged += value
			}
		case "moderation_bans_total":
			snap.bans += value
		case "moderation_throttled_total":
			snap.throttled = value
		case "moderation_open_streams":
			snap.openStreams = value
		case "moderation_check_latency_seconds_sum":
			snap.latencySum = value
		case "moderation_check_latency_seconds_count":
			snap.latencyCount = value
		}
	}
	return snap, scanner.Err()
}

// parseMetricLine splits a text exposition line such as
//
//	moderation_bans_total{source="engine"} 3
//
// into its name, raw label block and value.
func parseMetricLine(line string) (name, labels string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", "", 0, false
		}
		name = raw[:idx]
		labels = raw[idx+1 : idx+closing]
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", "", 0, false
	}
	if name == "" {
		name = fields[0]
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", "", 0, false
	}
	return name, labels, v, true
}

// Report writes the initial, final, delta and peak of each scraped metric.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := make([]snapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	rows := []struct {
		label   string
		extract func(snapshot) float64
	}{
		{"Verdicts", func(s snapshot) float64 { return s.verdicts }},
		{"Flagged", func(s snapshot) float64 { return s.flagged }},
		{"Bans", func(s snapshot) float64 { return s.bans }},
		{"Throttled", func(s snapshot) float64 { return s.throttled }},
		{"Open Streams", func(s snapshot) float64 { return s.openStreams }},
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, r := range rows {
		initial, final := r.extract(first), r.extract(last)
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			r.label, initial, final, final-initial, peak(snaps, r.extract))
	}

	fmt.Fprintln(w)
	count := last.latencyCount - first.latencyCount
	if count > 0 {
		fmt.Fprintf(w, "  %-16s avg: %.6fs  (%.0f observations)\n",
			"Check Latency", (last.latencySum-first.latencySum)/count, count)
	} else {
		fmt.Fprintf(w, "  %-16s avg: N/A  (no observations)\n", "Check Latency")
	}
}

func peak(snaps []snapshot, extract func(snapshot) float64) float64 {
	p := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > p {
			p = v
		}
	}
	return p
}
