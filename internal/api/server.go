// Package api serves the moderator's HTTP surface: health, metrics, an HTTP
// moderation check and the streamer console.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/whisper/stream-moderation/internal/controls"
	"github.com/whisper/stream-moderation/internal/history"
	"github.com/whisper/stream-moderation/internal/report"
	"github.com/whisper/stream-moderation/internal/service"
	"go.uber.org/zap"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server holds the HTTP handlers.
type Server struct {
	svc     *service.Service
	logger  *zap.Logger
	metrics http.Handler
	checks  map[string]HealthCheck
}

// NewServer creates a Server. metrics may be nil to disable /metrics.
func NewServer(svc *service.Service, logger *zap.Logger, metrics http.Handler, checks map[string]HealthCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger, metrics: metrics, checks: checks}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HealthHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/moderate", s.ModerateHandler).Methods("POST")
	api.HandleFunc("/streams/{id}/console", s.ConsoleHandler).Methods("GET")
	api.HandleFunc("/streams/{id}/actions", s.ActionHandler).Methods("POST")
	api.HandleFunc("/streams/{id}/reports", s.ReportHandler).Methods("POST")
	api.HandleFunc("/streams/{id}/participants/{pid}", s.LeaveHandler).Methods("DELETE")
	api.HandleFunc("/streams/{id}", s.EndStreamHandler).Methods("DELETE")
	return r
}

// ConsoleView is the streamer console of one stream.
type ConsoleView struct {
	StreamID string                  `json:"streamId"`
	Users    []controls.User         `json:"users"`
	Pinned   *controls.PinnedMessage `json:"pinned,omitempty"`
	Flagged  []history.Entry         `json:"flagged"`
	Deleted  []string                `json:"deleted"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// HealthHandler runs every health check and reports 503 if any fails.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	s.writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": results})
}

// ModerateHandler moderates one message posted as a ModerationRequest.
func (s *Server) ModerateHandler(w http.ResponseWriter, r *http.Request) {
	var req service.ModerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	res, err := s.svc.Handle(r.Context(), req)
	if errors.Is(err, service.ErrInvalidRequest) {
		s.writeJSON(w, http.StatusBadRequest, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ConsoleHandler returns the streamer console of a stream.
func (s *Server) ConsoleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c := s.svc.Controls(id)
	view := ConsoleView{
		StreamID: id,
		Users:    c.Users(),
		Flagged:  s.svc.Recent(id),
		Deleted:  c.DeletedMessages(),
	}
	if p, ok := c.Pinned(); ok {
		view.Pinned = &p
	}
	s.writeJSON(w, http.StatusOK, view)
}

// ActionHandler applies a console action to the stream in the path.
func (s *Server) ActionHandler(w http.ResponseWriter, r *http.Request) {
	var action service.ControlAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed action")
		return
	}
	action.StreamID = mux.Vars(r)["id"]

	if err := s.svc.Apply(r.Context(), action); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, service.ControlReply{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, service.ControlReply{OK: true})
}

// ReportHandler records a viewer report against a participant of the stream
// in the path.
func (s *Server) ReportHandler(w http.ResponseWriter, r *http.Request) {
	var rep report.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed report")
		return
	}
	rep.StreamID = mux.Vars(r)["id"]

	out, err := s.svc.Report(r.Context(), rep)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		s.writeJSON(w, http.StatusBadRequest, out)
	case err != nil:
		s.logger.Error("failed to record report", zap.String("stream", rep.StreamID), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, out)
	default:
		s.writeJSON(w, http.StatusAccepted, out)
	}
}

// EndStreamHandler ends a stream and discards its state.
func (s *Server) EndStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.EndStream(r.Context(), id); err != nil {
		s.logger.Error("failed to end stream", zap.String("stream", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to end stream")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaveHandler drops the engine state of a participant who left the stream.
func (s *Server) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.svc.Leave(r.Context(), vars["id"], vars["pid"]); err != nil {
		s.logger.Error("failed to drop participant state",
			zap.String("stream", vars["id"]),
			zap.String("participant", vars["pid"]),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to drop participant state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
