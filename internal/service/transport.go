package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/whisper/stream-moderation/internal/report"
	"go.uber.org/zap"
)

// Publisher fans verdicts out to a stream's listeners. *messaging.Client
// satisfies it.
type Publisher interface {
	PublishModerationResult(streamID string, data []byte) error
}

// CheckHandler decodes a ModerationRequest, moderates it and returns the
// encoded ModerationResult. Flagged results are also published for the
// stream when pub is non-nil.
func (s *Service) CheckHandler(ctx context.Context, pub Publisher) func(data []byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var req ModerationRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply, _ := json.Marshal(ModerationResult{Error: "malformed request"})
			return reply, fmt.Errorf("service: decode request: %w", err)
		}

		res, handleErr := s.Handle(ctx, req)
		reply, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("service: encode result: %w", err)
		}
		if handleErr != nil {
			return reply, handleErr
		}

		if pub != nil && res.Flagged {
			if err := pub.PublishModerationResult(res.StreamID, reply); err != nil {
				s.logger.Warn("failed to publish result",
					zap.String("stream", res.StreamID),
					zap.Error(err),
				)
			}
		}
		return reply, nil
	}
}

// ControlHandler decodes a ControlAction, applies it and returns an encoded
// ControlReply.
func (s *Service) ControlHandler(ctx context.Context) func(data []byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var action ControlAction
		if err := json.Unmarshal(data, &action); err != nil {
			reply, _ := json.Marshal(ControlReply{Error: "malformed action"})
			return reply, fmt.Errorf("service: decode action: %w", err)
		}

		applyErr := s.Apply(ctx, action)
		ack := ControlReply{OK: applyErr == nil}
		if applyErr != nil {
			ack.Error = applyErr.Error()
		}
		reply, err := json.Marshal(ack)
		if err != nil {
			return nil, fmt.Errorf("service: encode reply: %w", err)
		}
		return reply, applyErr
	}
}

// ReportHandler decodes a report.Report, records it and returns an encoded
// ReportOutcome.
func (s *Service) ReportHandler(ctx context.Context) func(data []byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var r report.Report
		if err := json.Unmarshal(data, &r); err != nil {
			reply, _ := json.Marshal(ReportOutcome{Error: "malformed report"})
			return reply, fmt.Errorf("service: decode report: %w", err)
		}

		out, reportErr := s.Report(ctx, r)
		reply, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("service: encode outcome: %w", err)
		}
		return reply, reportErr
	}
}

// StreamEndedHandler decodes a StreamEnded announcement and ends the stream.
func (s *Service) StreamEndedHandler(ctx context.Context) func(data []byte) {
	return func(data []byte) {
		var ev StreamEnded
		if err := json.Unmarshal(data, &ev); err != nil || ev.StreamID == "" {
			s.logger.Warn("ignoring malformed stream.ended event", zap.ByteString("payload", data))
			return
		}
		if err := s.EndStream(ctx, ev.StreamID); err != nil {
			s.logger.Error("failed to end stream", zap.String("stream", ev.StreamID), zap.Error(err))
			return
		}
		s.logger.Info("stream ended", zap.String("stream", ev.StreamID))
	}
}

// ViewerLeftHandler decodes a ViewerLeft announcement and drops the
// participant's engine state.
func (s *Service) ViewerLeftHandler(ctx context.Context) func(data []byte) {
	return func(data []byte) {
		var ev ViewerLeft
		if err := json.Unmarshal(data, &ev); err != nil || ev.StreamID == "" || ev.ParticipantID == "" {
			s.logger.Warn("ignoring malformed viewer.left event", zap.ByteString("payload", data))
			return
		}
		if err := s.Leave(ctx, ev.StreamID, ev.ParticipantID); err != nil {
			s.logger.Error("failed to drop participant state",
				zap.String("stream", ev.StreamID),
				zap.String("participant", ev.ParticipantID),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("participant left",
			zap.String("stream", ev.StreamID),
			zap.String("participant", ev.ParticipantID),
		)
	}
}
