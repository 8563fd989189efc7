// Package messaging provides the NATS client wrapper used by the moderation
// service. It handles connection lifecycle, subscription bookkeeping and the
// moderation subjects.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects used by the moderation service.
const (
	SubjectModerationCheck   = "moderation.check"   // request/reply
	SubjectModerationResult  = "moderation.result"  // + .<stream_id>
	SubjectModerationControl = "moderation.control" // request/reply
	SubjectModerationReport  = "moderation.report"  // request/reply
	SubjectStreamEnded       = "stream.ended"
	SubjectViewerLeft        = "viewer.left"
)

// QueueModerators is the queue group shared by moderator instances so each
// request is handled once.
const QueueModerators = "moderators"

// ResultSubject returns the subject verdicts for streamID are published on.
func ResultSubject(streamID string) string {
	return SubjectModerationResult + "." + streamID
}

// Handler processes a request payload and returns the reply payload.
type Handler func(data []byte) ([]byte, error)

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
	Timeout       time.Duration // dial timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "stream-moderator",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
		Timeout:       2 * time.Second,
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}
	if config.Timeout > 0 {
		opts = append(opts, nats.Timeout(config.Timeout))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &Client{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// serve answers requests on subject within the moderators queue group.
func (c *Client) serve(subject string, handler Handler) error {
	sub, err := c.conn.QueueSubscribe(subject, QueueModerators, func(msg *nats.Msg) {
		reply, err := handler(msg.Data)
		if err != nil {
			c.logger.Warn("handler failed", zap.String("subject", subject), zap.Error(err))
		}
		if msg.Reply == "" || reply == nil {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("respond failed", zap.String("subject", subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

func (c *Client) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
}

// ServeModerationCheck answers moderation check requests with handler.
func (c *Client) ServeModerationCheck(handler Handler) error {
	return c.serve(SubjectModerationCheck, handler)
}

// ServeModerationControl answers streamer console actions with handler.
func (c *Client) ServeModerationControl(handler Handler) error {
	return c.serve(SubjectModerationControl, handler)
}

// ServeModerationReport answers viewer reports with handler.
func (c *Client) ServeModerationReport(handler Handler) error {
	return c.serve(SubjectModerationReport, handler)
}

// RequestModeration sends a moderation check and waits for the verdict.
func (c *Client) RequestModeration(ctx context.Context, data []byte) ([]byte, error) {
	return c.request(ctx, SubjectModerationCheck, data)
}

func (c *Client) request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// PublishModerationResult publishes a verdict for a specific stream.
func (c *Client) PublishModerationResult(streamID string, data []byte) error {
	return c.Publish(ResultSubject(streamID), data)
}

// SubscribeModerationResult subscribes to verdicts for a specific stream.
func (c *Client) SubscribeModerationResult(streamID string, handler func(data []byte)) error {
	return c.Subscribe(ResultSubject(streamID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeModerationResult unsubscribes from verdicts for a stream.
func (c *Client) UnsubscribeModerationResult(streamID string) error {
	return c.unsubscribe(ResultSubject(streamID))
}

// PublishStreamEnded announces the end of a stream.
func (c *Client) PublishStreamEnded(data []byte) error {
	return c.Publish(SubjectStreamEnded, data)
}

// SubscribeStreamEnded subscribes to stream end announcements. Every
// instance receives them.
func (c *Client) SubscribeStreamEnded(handler func(data []byte)) error {
	return c.Subscribe(SubjectStreamEnded, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishViewerLeft announces that a participant left a stream.
func (c *Client) PublishViewerLeft(data []byte) error {
	return c.Publish(SubjectViewerLeft, data)
}

// SubscribeViewerLeft subscribes to viewer departures. Every instance
// receives them.
func (c *Client) SubscribeViewerLeft(handler func(data []byte)) error {
	return c.Subscribe(SubjectViewerLeft, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Flush waits until the server has processed everything sent so far.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain failed", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain failed", zap.Error(err))
	}
	c.logger.Info("client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *Client) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
