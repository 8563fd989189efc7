// Package service hosts the moderation engine for many concurrent streams.
// Every chat message passes, in order, through the streamer's sanctions,
// the chat rate limit and the engine; the verdict is recorded in metrics
// and logs.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/whisper/stream-moderation/internal/ban"
	"github.com/whisper/stream-moderation/internal/controls"
	"github.com/whisper/stream-moderation/internal/history"
	"github.com/whisper/stream-moderation/internal/metrics"
	"github.com/whisper/stream-moderation/internal/moderation"
	"github.com/whisper/stream-moderation/internal/ratelimit"
	"github.com/whisper/stream-moderation/internal/report"
	"github.com/whisper/stream-moderation/internal/session"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned for requests missing a stream or participant
// and for oversized messages.
var ErrInvalidRequest = errors.New("service: invalid request")

// Size limits for a single chat message.
const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// User-facing reasons for rejections that do not come from the engine.
const (
	ReasonStreamerBan  = "You have been banned from this chat by the streamer"
	ReasonStreamerMute = "You have been muted by the streamer"
	ReasonThrottled    = "You are sending messages too fast"
)

// Limiter throttles submissions. *ratelimit.Limiter and
// *ratelimit.MemoryLimiter satisfy it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Reset(ctx context.Context, streamID string, rule ratelimit.Rule) error
}

// Reports counts distinct reporters per participant. *report.Store and
// *report.MemoryStore satisfy it.
type Reports interface {
	Add(ctx context.Context, streamID, reportedID, reporterID string) (int, error)
	Clear(ctx context.Context, streamID string) error
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for requests without a timestamp and for the
// streamer consoles.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLimiter enables the chat rate limit.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithReports replaces the in-memory report counter.
func WithReports(r Reports) Option {
	return func(s *Service) { s.reports = r }
}

// WithMetrics records verdicts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service answers moderation checks and streamer actions.
type Service struct {
	registry  *session.Registry
	sanctions controls.Sanctions
	limiter   Limiter
	reports   Reports
	metrics   *metrics.Metrics
	history   *history.Buffer
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	consoles map[string]*controls.Controls
}

// New creates a Service. A nil sanctions store means an in-memory one.
func New(registry *session.Registry, sanctions controls.Sanctions, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		logger:   logger,
		history:  history.NewBuffer(),
		now:      time.Now,
		consoles: make(map[string]*controls.Controls),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if sanctions == nil {
		sanctions = ban.NewMemoryStore(s.now)
	}
	s.sanctions = sanctions
	if s.reports == nil {
		s.reports = report.NewMemoryStore()
	}
	return s
}

// Handle moderates one chat message. The returned error is non-nil only for
// malformed requests; backend failures degrade to a state-less check.
func (s *Service) Handle(ctx context.Context, req ModerationRequest) (ModerationResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	res := ModerationResult{
		RequestID:     req.RequestID,
		StreamID:      req.StreamID,
		ParticipantID: req.ParticipantID,
	}
	if err := validateRequest(req); err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Ban timing uses the server clock; req.Ts is only logged.
	start := time.Now()
	now := s.now()
	log := s.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("stream", req.StreamID),
		zap.String("participant", req.ParticipantID),
	)
	if req.Ts > 0 {
		log = log.With(zap.Int64("client_ts", req.Ts))
	}

	stream := s.registry.Open(req.StreamID)
	s.updateOpenStreams()

	if s.sanctioned(ctx, log, req, now, &res) {
		s.observe(res, start)
		return res, nil
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, ratelimit.Identifier(req.StreamID, req.ParticipantID), ratelimit.RuleChat)
		if err != nil {
			log.Warn("rate limit check failed", zap.Error(err))
		}
		if !allowed {
			res.Flagged = true
			res.Severity = int(moderation.SeverityLow)
			res.Category = string(moderation.CategorySpam)
			res.Reason = ReasonThrottled
			if s.metrics != nil {
				s.metrics.Throttled.Inc()
			}
			s.observe(res, start)
			return res, nil
		}
	}

	verdict, next, err := stream.Check(ctx, req.ParticipantID, req.Text, now)
	if err != nil {
		// Judge the message on its content alone rather than let it through
		// unchecked.
		log.Warn("session state unavailable, checking without history", zap.Error(err))
		verdict, _ = s.registry.Engine().Check(req.Text, moderation.State{}, now)
		next = moderation.State{}
	}

	res.Flagged = verdict.Flagged
	res.Severity = int(verdict.Severity)
	res.Category = string(verdict.Category)
	res.Reason = verdict.Reason
	if next.BannedAt(now) {
		res.Banned = true
		res.BanUntil = next.BanUntil.UnixMilli()
		if next.LastViolationAt.Equal(now) && s.metrics != nil {
			s.metrics.Bans.WithLabelValues("engine").Inc()
		}
	}

	if verdict.Flagged {
		s.history.Add(req.StreamID, history.Entry{
			RequestID:     res.RequestID,
			ParticipantID: req.ParticipantID,
			Text:          req.Text,
			Category:      res.Category,
			Severity:      res.Severity,
			Reason:        res.Reason,
			Ts:            now.UnixMilli(),
		})
		log.Info("message flagged",
			zap.String("category", res.Category),
			zap.Int("severity", res.Severity),
			zap.Int("warnings", next.WarningCount),
			zap.Bool("banned", res.Banned),
		)
	} else {
		log.Debug("message clean")
	}
	s.observe(res, start)
	return res, nil
}

func validateRequest(req ModerationRequest) error {
	if req.StreamID == "" || req.ParticipantID == "" {
		return errors.New("streamId and participantId are required")
	}
	if len(req.Text) > MaxMessageBytes {
		return fmt.Errorf("text exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(req.Text) > MaxTextChars {
		return fmt.Errorf("text exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// sanctioned fills res and reports true when the participant is banned or
// muted by the streamer. Store errors fail open.
func (s *Service) sanctioned(ctx context.Context, log *zap.Logger, req ModerationRequest, now time.Time, res *ModerationResult) bool {
	banned, remaining, _, err := s.sanctions.Active(ctx, req.StreamID, req.ParticipantID, ban.KindBan)
	if err != nil {
		log.Warn("sanction lookup failed, failing open", zap.Error(err))
		return false
	}
	if banned {
		res.Flagged = true
		res.Severity = int(moderation.SeverityHigh)
		res.Category = string(moderation.CategoryAbuse)
		res.Reason = ReasonStreamerBan
		res.Banned = true
		res.BanUntil = now.Add(remaining).UnixMilli()
		return true
	}

	muted, _, _, err := s.sanctions.Active(ctx, req.StreamID, req.ParticipantID, ban.KindMute)
	if err != nil {
		log.Warn("sanction lookup failed, failing open", zap.Error(err))
		return false
	}
	if muted {
		res.Flagged = true
		res.Severity = int(moderation.SeverityLow)
		res.Category = string(moderation.CategoryAbuse)
		res.Reason = ReasonStreamerMute
		return true
	}
	return false
}

func (s *Service) observe(res ModerationResult, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveVerdict(res.Category, res.Severity, time.Since(start))
}

func (s *Service) updateOpenStreams() {
	if s.metrics != nil {
		s.metrics.OpenStreams.Set(float64(s.registry.Len()))
	}
}

// Controls returns the streamer console of streamID, creating it if needed.
func (s *Service) Controls(streamID string) *controls.Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consoles[streamID]
	if !ok {
		c = controls.New(streamID, s.sanctions, controls.WithClock(s.now))
		s.consoles[streamID] = c
	}
	return c
}

// Recent returns the messages the engine flagged on streamID, oldest first.
// Entries whose request ID the streamer deleted are left out.
func (s *Service) Recent(streamID string) []history.Entry {
	entries := s.history.Recent(streamID)
	s.mu.Lock()
	c, ok := s.consoles[streamID]
	s.mu.Unlock()
	if !ok {
		return entries
	}
	kept := entries[:0]
	for _, e := range entries {
		if !c.IsMessageDeleted(e.RequestID) {
			kept = append(kept, e)
		}
	}
	return kept
}

// Apply performs a streamer console action.
func (s *Service) Apply(ctx context.Context, a ControlAction) error {
	if a.StreamID == "" {
		return fmt.Errorf("%w: streamId is required", ErrInvalidRequest)
	}
	needsUser := a.Type == ActionMute || a.Type == ActionBan || a.Type == ActionAssignModerator
	if needsUser && a.UserID == "" {
		return fmt.Errorf("%w: %s requires userId", ErrInvalidRequest, a.Type)
	}
	needsMessage := a.Type == ActionPin || a.Type == ActionDelete
	if needsMessage && a.MessageID == "" {
		return fmt.Errorf("%w: %s requires messageId", ErrInvalidRequest, a.Type)
	}

	c := s.Controls(a.StreamID)
	var err error
	switch a.Type {
	case ActionMute:
		err = c.Mute(ctx, a.UserID, a.Username, time.Duration(a.DurationMs)*time.Millisecond)
	case ActionBan:
		err = c.Ban(ctx, a.UserID, a.Username)
		if err == nil && s.metrics != nil {
			s.metrics.Bans.WithLabelValues("streamer").Inc()
		}
	case ActionAssignModerator:
		err = c.AssignModerator(ctx, a.UserID, a.Username)
	case ActionPin:
		c.Pin(a.MessageID, a.Username, a.Message)
	case ActionUnpin:
		c.Unpin()
	case ActionDelete:
		c.DeleteMessage(a.MessageID)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, a.Type)
	}
	if err != nil {
		return err
	}

	s.logger.Info("control action applied",
		zap.String("stream", a.StreamID),
		zap.String("action", string(a.Type)),
		zap.String("user", a.UserID),
		zap.String("message", a.MessageID),
	)
	return nil
}

// Report records a viewer report. Once AutoMuteThreshold distinct viewers
// have reported a participant who is not a moderator, the participant is
// muted for the default duration.
func (s *Service) Report(ctx context.Context, r report.Report) (ReportOutcome, error) {
	if err := r.Validate(); err != nil {
		return ReportOutcome{Error: err.Error()}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	count, err := s.reports.Add(ctx, r.StreamID, r.ReportedID, r.ReporterID)
	if err != nil {
		return ReportOutcome{Error: "report not recorded"}, err
	}
	out := ReportOutcome{Reports: count}

	log := s.logger.With(
		zap.String("stream", r.StreamID),
		zap.String("participant", r.ReportedID),
		zap.String("reason", r.Reason),
		zap.Int("reports", count),
	)
	log.Info("participant reported")

	c := s.Controls(r.StreamID)
	if count < report.AutoMuteThreshold || c.IsModerator(r.ReportedID) {
		return out, nil
	}
	muted, err := c.IsMuted(ctx, r.ReportedID)
	if err != nil {
		return out, err
	}
	banned, err := c.IsBanned(ctx, r.ReportedID)
	if err != nil {
		return out, err
	}
	if muted || banned {
		return out, nil
	}
	if err := c.Mute(ctx, r.ReportedID, "", controls.DefaultMuteDuration); err != nil {
		return out, err
	}
	out.Muted = true
	log.Info("participant muted after reports")
	return out, nil
}

// Leave discards the engine state kept for one participant, so a viewer who
// rejoins starts clean. Streamer sanctions are kept. Leaving a stream that is
// not open is a no-op.
func (s *Service) Leave(ctx context.Context, streamID, participantID string) error {
	if streamID == "" || participantID == "" {
		return ErrInvalidRequest
	}
	stream, ok := s.registry.Get(streamID)
	if !ok {
		return nil
	}
	if err := stream.Leave(ctx, participantID); err != nil && !errors.Is(err, session.ErrClosed) {
		return fmt.Errorf("service: leave %s/%s: %w", streamID, participantID, err)
	}
	return nil
}

// EndStream discards everything kept for streamID: engine state, the
// streamer console and flagged history, sanctions, reports and rate limit
// counters. Ending an unknown stream is a no-op.
func (s *Service) EndStream(ctx context.Context, streamID string) error {
	var errs []error
	if stream, ok := s.registry.Get(streamID); ok {
		if err := stream.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	delete(s.consoles, streamID)
	s.mu.Unlock()
	s.history.Remove(streamID)

	if err := s.sanctions.Clear(ctx, streamID); err != nil {
		errs = append(errs, fmt.Errorf("service: clear sanctions %s: %w", streamID, err))
	}

	if err := s.reports.Clear(ctx, streamID); err != nil {
		errs = append(errs, fmt.Errorf("service: clear reports %s: %w", streamID, err))
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, streamID, ratelimit.RuleChat); err != nil {
			errs = append(errs, fmt.Errorf("service: reset rate limit %s: %w", streamID, err))
		}
	}
	s.updateOpenStreams()
	return errors.Join(errs...)
}

// Close ends every open stream.
func (s *Service) Close(ctx context.Context) error {
	err := s.registry.CloseAll(ctx)
	s.mu.Lock()
	s.consoles = make(map[string]*controls.Controls)
	s.mu.Unlock()
	s.history.Reset()
	s.updateOpenStreams()
	return err
}
