package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/whisper/stream-moderation/internal/loadtest"
	"github.com/whisper/stream-moderation/internal/logging"
	"github.com/whisper/stream-moderation/internal/messaging"
	"github.com/whisper/stream-moderation/internal/service"
	"go.uber.org/zap"
)

var (
	cleanMessages = []string{
		"great stream!",
		"hello from Lisbon",
		"what game is next?",
		"lol that was close",
		"gg",
	}
	abusiveMessages = []string{
		"this is shit",
		"you are an idiot",
		"sh1t play",
		"call me at 555-123-4567",
		"BUY NOW!!! BUY NOW!!! BUY NOW!!!",
	}
)

func streamID(i int) string { return fmt.Sprintf("load-%d", i) }

func connect(url string) (*messaging.Client, *zap.Logger, error) {
	logger, err := logging.New("loadtest", "warn")
	if err != nil {
		return nil, nil, err
	}
	cfg := messaging.DefaultConfig()
	cfg.URL = url
	cfg.Name = "moderation-loadtest"
	nc, err := messaging.NewClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return nc, logger, nil
}

// runCheck starts viewers*streams simulated participants. Each one sends
// messages at a fixed interval, a share of them abusive, and waits for the
// verdict of each before sending the next.
func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	url := fs.String("nats", "nats://localhost:4222", "NATS server URL")
	streams := fs.Int("streams", 10, "Number of simulated streams")
	viewers := fs.Int("viewers", 20, "Chatting viewers per stream")
	messages := fs.Int("messages", 10, "Messages sent by each viewer")
	interval := fs.Duration("interval", 2100*time.Millisecond, "Interval between messages per viewer")
	abusive := fs.Float64("abusive", 0.1, "Share of abusive messages (0-1)")
	timeout := fs.Duration("timeout", 2*time.Second, "Timeout per moderation request")
	metricsURL := fs.String("metrics-url", "http://localhost:9090/metrics", "Moderator metrics endpoint")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args) //nolint:errcheck

	if *interval <= 0 || *streams < 1 || *viewers < 1 {
		fmt.Fprintln(os.Stderr, "interval, streams and viewers must be positive")
		os.Exit(2)
	}
	total := *streams * *viewers
	fmt.Printf("Check test: %d streams x %d viewers (%d participants), %d messages each every %s, %.0f%% abusive\n",
		*streams, *viewers, total, *messages, *interval, *abusive*100)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, logger, err := connect(*url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()
	defer logger.Sync() //nolint:errcheck

	collector := loadtest.NewCollector()
	scraper := loadtest.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var wg sync.WaitGroup
	for s := 0; s < *streams; s++ {
		for v := 0; v < *viewers; v++ {
			wg.Add(1)
			go func(stream, participant string) {
				defer wg.Done()
				viewer(ctx, nc, collector, stream, participant, *messages, *interval, *abusive, *timeout)
			}(streamID(s), fmt.Sprintf("viewer-%d", v))
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
wait:
	for {
		select {
		case <-done:
			break wait
		case <-ctx.Done():
			fmt.Println("\nInterrupted, waiting for in-flight requests...")
			<-done
			break wait
		case <-progress.C:
			s := collector.Summary()
			fmt.Printf("  ... %d requests, %d flagged, %d banned, %d errors\n",
				s.Requests, s.Flagged+s.Banned, s.Banned, s.Errors)
		}
	}

	scraper.Stop()
	collector.Report(os.Stdout)
}

func viewer(ctx context.Context, nc *messaging.Client, c *loadtest.Collector,
	stream, participant string, messages int, interval time.Duration, abusive float64, timeout time.Duration) {

	// spread the first messages over one interval
	jitter := time.Duration(rand.Int64N(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < messages; i++ {
		text := cleanMessages[rand.IntN(len(cleanMessages))]
		if rand.Float64() < abusive {
			text = abusiveMessages[rand.IntN(len(abusiveMessages))]
		}
		data, _ := json.Marshal(service.ModerationRequest{
			RequestID:     uuid.NewString(),
			StreamID:      stream,
			ParticipantID: participant,
			Text:          text,
			Ts:            time.Now().UnixMilli(),
		})

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		reply, err := nc.RequestModeration(reqCtx, data)
		latency := time.Since(start)
		cancel()

		var res service.ModerationResult
		if err == nil {
			err = json.Unmarshal(reply, &res)
		}
		if err != nil || res.Error != "" {
			c.AddError()
		} else {
			c.AddResult(outcome(res), latency)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	data, _ := json.Marshal(service.ViewerLeft{StreamID: stream, ParticipantID: participant})
	if err := nc.PublishViewerLeft(data); err != nil {
		c.AddError()
	}
}

func outcome(res service.ModerationResult) loadtest.Outcome {
	switch {
	case res.Banned:
		return loadtest.OutcomeBanned
	case res.Reason == service.ReasonThrottled:
		return loadtest.OutcomeThrottled
	case res.Flagged:
		return loadtest.OutcomeFlagged
	default:
		return loadtest.OutcomeClean
	}
}

// runEnd publishes stream.ended for the streams a check run used, so the
// moderator drops their state.
func runEnd(args []string) {
	fs := flag.NewFlagSet("end", flag.ExitOnError)
	url := fs.String("nats", "nats://localhost:4222", "NATS server URL")
	streams := fs.Int("streams", 10, "Number of simulated streams")
	fs.Parse(args) //nolint:errcheck

	nc, logger, err := connect(*url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	defer nc.Close()

	for s := 0; s < *streams; s++ {
		data, _ := json.Marshal(service.StreamEnded{StreamID: streamID(s)})
		if err := nc.PublishStreamEnded(data); err != nil {
			fmt.Fprintf(os.Stderr, "publish %s: %v\n", streamID(s), err)
		}
	}
	if err := nc.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
	}
	fmt.Printf("Ended %d streams\n", *streams)
}
