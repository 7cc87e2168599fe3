// Package api exposes a session over HTTP so UI collaborators outside the
// process can drive a conversation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ChatCore/internal/backend"
	"ChatCore/internal/session"
	"ChatCore/internal/store"

	"github.com/gorilla/mux"
)

// maxRequestBytes bounds an incoming message body
const maxRequestBytes = 1 << 20

// Recorder persists a session after each successful turn
type Recorder interface {
	Save(ctx context.Context, rec store.Record) error
}

// Server is the HTTP facade over one conversation session.
type Server struct {
	httpServer *http.Server
	sess       *session.Session
	recorder   Recorder
	logger     *slog.Logger
}

// New constructs a Server. recorder may be nil.
func New(addr string, sess *session.Session, recorder Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{sess: sess, recorder: recorder, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/v1/session/messages", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v1/session", s.handleReset).Methods(http.MethodDelete)
	r.HandleFunc("/v1/session/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/session/state", s.handleState).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = loggingMiddleware(logger, sess.ID())(handler)
	handler = recoveryMiddleware(logger, sess.ID())(handler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Message      backend.ChatMessage  `json:"message"`
	FinishReason backend.FinishReason `json:"finish_reason"`
	Usage        backend.ChatUsage    `json:"usage"`
}

type historyResponse struct {
	ID       string                `json:"id"`
	Messages []backend.ChatMessage `json:"messages"`
}

type stateResponse struct {
	ID         string            `json:"id"`
	State      string            `json:"state"`
	Model      string            `json:"model"`
	LastUsage  backend.ChatUsage `json:"last_usage"`
	TotalUsage backend.ChatUsage `json:"total_usage"`
	Fault      string            `json:"fault,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Type: "validation", Message: "malformed request body"})
		return
	}

	result, err := s.sess.Send(r.Context(), req.Text)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	switch result.Kind() {
	case backend.KindSuccess:
		resp, _ := result.Success()
		choice, _ := resp.TopChoice()
		s.save(r.Context())
		writeJSON(w, http.StatusOK, sendResponse{
			Message:      choice.Message,
			FinishReason: choice.FinishReason,
			Usage:        resp.Usage,
		})
	case backend.KindServiceError:
		svc, _ := result.ServiceError()
		writeError(w, http.StatusBadGateway, errorBody{
			Message: svc.Err.Message,
			Type:    svc.Err.Type,
			Code:    svc.Err.Code,
			Status:  svc.Status,
		})
	default:
		te, _ := result.TransportError()
		status := http.StatusBadGateway
		switch te.Tag {
		case backend.TagCancelled, backend.TagTimeout:
			status = http.StatusGatewayTimeout
		case backend.TagConfiguration:
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, errorBody{
			Type:    "transport",
			Tag:     te.Tag,
			Message: te.Error(),
			Status:  te.Status,
		})
	}
}

func (s *Server) writeRejection(w http.ResponseWriter, err error) {
	var ve *backend.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, errorBody{Type: "validation", Field: ve.Field, Message: ve.Reason})
	case errors.Is(err, backend.ErrBusy):
		writeError(w, http.StatusConflict, errorBody{Type: "busy", Message: err.Error()})
	case backend.IsConfigurationError(err):
		writeError(w, http.StatusServiceUnavailable, errorBody{Type: "configuration", Message: err.Error()})
	default:
		s.logger.Error("unexpected send error", "error", err)
		writeError(w, http.StatusInternalServerError, errorBody{Type: "internal", Message: "internal server error"})
	}
}

func (s *Server) save(ctx context.Context) {
	if s.recorder == nil {
		return
	}
	rec := store.NewRecord(s.sess.ID(), s.sess.StartTime(), s.sess.Params().Model, s.sess.CurrentHistory())
	if err := s.recorder.Save(ctx, rec); err != nil {
		s.logger.Error("failed to save session", "session_id", rec.ID, "error", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.sess.Reset()
	s.logger.Info("session reset", "session_id", s.sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, historyResponse{ID: s.sess.ID(), Messages: s.sess.CurrentHistory()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		ID:         s.sess.ID(),
		State:      s.sess.State().String(),
		Model:      s.sess.Params().Model,
		LastUsage:  s.sess.LastUsage(),
		TotalUsage: s.sess.TotalUsage(),
	}
	if err := s.sess.Fault(); err != nil {
		resp.Fault = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code,omitempty"`
	Tag     string  `json:"tag,omitempty"`
	Field   string  `json:"field,omitempty"`
	Status  int     `json:"status,omitempty"`
}

func writeError(w http.ResponseWriter, statusCode int, body errorBody) {
	writeJSON(w, statusCode, struct {
		Error errorBody `json:"error"`
	}{body})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
