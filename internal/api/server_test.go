package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whisper/stream-moderation/internal/metrics"
	"github.com/whisper/stream-moderation/internal/moderation"
	"github.com/whisper/stream-moderation/internal/report"
	"github.com/whisper/stream-moderation/internal/service"
	"github.com/whisper/stream-moderation/internal/session"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	reg := session.NewRegistry(moderation.NewEngine(moderation.DefaultPolicy()), session.NewMemoryStore(), zap.NewNop())
	m := metrics.New(nil)
	svc := service.New(reg, nil, zap.NewNop(), service.WithMetrics(m))
	return NewServer(svc, zap.NewNop(), m.Handler(), checks).Router()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all ok", map[string]HealthCheck{"redis": func(context.Context) error { return nil }}, http.StatusOK},
		{"one failing", map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
			"nats":  func(context.Context) error { return errors.New("disconnected") },
		}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(t, tt.checks), http.MethodGet, "/healthz", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestModerate(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{StreamID: "live1", ParticipantID: "a", Text: "call me 555-123-4567"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.ModerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Flagged)
	assert.Equal(t, "personal_info", res.Category)

	rec = do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/moderate", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/moderate", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConsoleActions(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{StreamID: "live1", ParticipantID: "u2", Text: "sh1t"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/streams/live1/actions", service.ControlAction{Type: service.ActionBan, UserID: "u1", Username: "troll"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/streams/live1/actions", service.ControlAction{Type: service.ActionPin, MessageID: "m1", Username: "host", Message: "hi all"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/streams/live1/console", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view ConsoleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "live1", view.StreamID)
	require.Len(t, view.Users, 1)
	assert.Equal(t, "troll", view.Users[0].Username)
	require.NotNil(t, view.Pinned)
	assert.Equal(t, "m1", view.Pinned.ID)
	require.Len(t, view.Flagged, 1)
	assert.Equal(t, "u2", view.Flagged[0].ParticipantID)

	rec = do(t, h, http.MethodPost, "/api/streams/live1/actions", service.ControlAction{Type: "shadowban", UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/streams/live1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/streams/live1/console", nil)
	var after ConsoleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Empty(t, after.Users, "ending the stream drops its console")
	assert.Nil(t, after.Pinned)
	assert.Empty(t, after.Flagged)
}

func TestMetricsRoute(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{StreamID: "live1", ParticipantID: "a", Text: "hello"})

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "moderation_verdicts_total")
}

func TestReports(t *testing.T) {
	h := newTestRouter(t, nil)

	var out service.ReportOutcome
	for _, reporter := range []string{"a", "b", "c"} {
		rec := do(t, h, http.MethodPost, "/api/streams/live1/reports", report.Report{ReporterID: reporter, ReportedID: "troll", Reason: "hate_speech"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	assert.True(t, out.Muted)

	rec := do(t, h, http.MethodPost, "/api/streams/live1/reports", report.Report{ReporterID: "a", ReportedID: "troll", Reason: "boring"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaveDropsParticipantState(t *testing.T) {
	h := newTestRouter(t, nil)
	moderate := func() service.ModerationResult {
		rec := do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{StreamID: "live1", ParticipantID: "u2", Text: "sh1t"})
		require.Equal(t, http.StatusOK, rec.Code)
		var res service.ModerationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		return res
	}

	moderate()
	moderate()
	rec := do(t, h, http.MethodDelete, "/api/streams/live1/participants/u2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	res := moderate()
	assert.True(t, res.Flagged)
	assert.False(t, res.Banned, "warnings before leaving are forgotten")

	rec = do(t, h, http.MethodDelete, "/api/streams/unknown/participants/u2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConsoleHidesDeletedFlaggedMessages(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{RequestID: "req-1", StreamID: "live1", ParticipantID: "u2", Text: "sh1t"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/moderate", service.ModerationRequest{RequestID: "req-2", StreamID: "live1", ParticipantID: "u3", Text: "sh1t"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/streams/live1/actions", service.ControlAction{Type: service.ActionDelete, MessageID: "req-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/streams/live1/console", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view ConsoleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"req-1"}, view.Deleted)
	require.Len(t, view.Flagged, 1)
	assert.Equal(t, "req-2", view.Flagged[0].RequestID)
}
