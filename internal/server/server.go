// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/admin"
	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/export"
	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/persona"
	"github.com/jeranaias/hamrah/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize caps JSON request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is reported by /health.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API over a chat.Service and an admin.Console.
type Server struct {
	addr    string
	chat    *chat.Service
	console *admin.Console
	log     *zap.Logger
	limiter *RateLimiter
	mux     *http.ServeMux
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = logging.OrNop(l) }
}

// WithRateLimit limits each client IP to perSec requests per second.
func WithRateLimit(perSec float64, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(perSec, burst) }
}

// New creates a Server.
func New(svc *chat.Service, console *admin.Console, opts ...Option) *Server {
	s := &Server{
		addr:    DefaultAddr,
		chat:    svc,
		console: console,
		log:     logging.Nop(),
		limiter: NewRateLimiter(0, 1),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/personas", s.handlePersonas)
	s.mux.HandleFunc("POST /api/personas/{id}/select", s.handleSelectPersona)

	s.mux.HandleFunc("GET /api/conversation", s.handleActiveConversation)
	s.mux.HandleFunc("POST /api/conversation/messages", s.handleSendMessage)
	s.mux.HandleFunc("PUT /api/conversation/safety", s.handleSafety)
	s.mux.HandleFunc("GET /api/conversation/export", s.handleExport)

	gate := AdminMiddleware(s.console, s.log)
	s.mux.Handle("GET /api/admin/personas", gate(http.HandlerFunc(s.handleAdminPersonas)))
	s.mux.Handle("POST /api/admin/personas", gate(http.HandlerFunc(s.handleAdminCreatePersona)))
	s.mux.Handle("PUT /api/admin/personas/{id}", gate(http.HandlerFunc(s.handleAdminUpdatePersona)))
	s.mux.Handle("DELETE /api/admin/personas/{id}", gate(http.HandlerFunc(s.handleAdminDeletePersona)))
	s.mux.Handle("GET /api/admin/conversations", gate(http.HandlerFunc(s.handleAdminConversations)))
	s.mux.Handle("GET /api/admin/conversations/{id}", gate(http.HandlerFunc(s.handleAdminConversation)))
	s.mux.Handle("DELETE /api/admin/conversations/{id}", gate(http.HandlerFunc(s.handleAdminDeleteConversation)))
	s.mux.Handle("GET /api/admin/export.csv", gate(http.HandlerFunc(s.handleAdminExportCSV)))
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
		RateLimitMiddleware(s.limiter, s.log),
	)(s.mux)
}

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Locale  string `json:"locale"`
}

// ConversationResponse wraps a conversation with its request state.
type ConversationResponse struct {
	Conversation model.Conversation `json:"conversation"`
	State        string             `json:"state"`
}

// SendMessageRequest is the body of POST /api/conversation/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SafetyRequest is the body of PUT /api/conversation/safety.
type SafetyRequest struct {
	Policy string `json:"policy"`
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Locale:  s.chat.Locale().String(),
	})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Personas())
}

func (s *Server) handleSelectPersona(w http.ResponseWriter, r *http.Request) {
	conv, err := s.chat.SelectPersonaByID(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.conversationResponse(conv))
}

func (s *Server) handleActiveConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.chat.Active()
	if !ok {
		writeError(w, http.StatusNotFound, chat.ErrNoActiveConversation.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.conversationResponse(conv))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be blank")
		return
	}

	active, ok := s.chat.Active()
	if !ok {
		writeError(w, http.StatusNotFound, chat.ErrNoActiveConversation.Error())
		return
	}
	if s.chat.State(active.ID) == chat.StateAwaiting {
		writeError(w, http.StatusConflict, "a reply is already pending")
		return
	}

	// An issued completion runs to completion even if the client goes away,
	// so the transcript records the real reply.
	accepted, err := s.chat.SendMessage(context.WithoutCancel(r.Context()), req.Text)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !accepted {
		writeError(w, http.StatusConflict, "message was not accepted")
		return
	}

	conv, ok := s.chat.Active()
	if !ok {
		writeError(w, http.StatusNotFound, chat.ErrNoActiveConversation.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.conversationResponse(conv))
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	var req SafetyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	policy, err := model.ParseSafetyPolicy(req.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := s.chat.ChangeSafetyPolicy(policy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.conversationResponse(conv))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatText)
	}
	format, err := export.ParseFormat(name)
	if err != nil || format == export.FormatCSV {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", name))
		return
	}

	dl, err := s.chat.Export(format)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeDownload(w, dl.FileName, dl.MimeType, dl.Content)
}

func (s *Server) conversationResponse(conv model.Conversation) ConversationResponse {
	return ConversationResponse{Conversation: conv, State: s.chat.State(conv.ID).String()}
}

// ============================================================================
// ADMIN HANDLERS
// ============================================================================

func (s *Server) handleAdminPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.console.Personas()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, personas)
}

func (s *Server) handleAdminCreatePersona(w http.ResponseWriter, r *http.Request) {
	draft := model.PersonaDraft{Age: model.DefaultDraftAge}
	if !decodeJSON(w, r, &draft) {
		return
	}
	p, err := s.console.CreatePersona(draft)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAdminUpdatePersona(w http.ResponseWriter, r *http.Request) {
	var draft model.PersonaDraft
	if !decodeJSON(w, r, &draft) {
		return
	}
	p, found, err := s.console.UpdatePersona(r.PathValue("id"), draft)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "persona not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAdminDeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := s.console.DeletePersona(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.console.Conversations()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleAdminConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.console.Conversation(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleAdminDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.console.DeleteConversation(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.chat.Reload()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf strings.Builder
	if err := s.console.ExportCSV(&buf); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeDownload(w, export.CSVFileName, "text/csv;charset=utf-8", []byte(buf.String()))
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Replies wait on the completion service.
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server started", zap.String("addr", s.addr), zap.String("version", Version))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeServiceError maps domain errors to HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verrs persona.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persona.ErrNotFound),
		errors.Is(err, storage.ErrConversationNotFound),
		errors.Is(err, chat.ErrNoActiveConversation):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, admin.ErrLocked), errors.Is(err, admin.ErrWrongPassword):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Request processing failed. Please try again.")
	}
}

// decodeJSON reads a size-limited JSON body into v. It writes the error
// response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Message: message, Code: status}})
}

func writeDownload(w http.ResponseWriter, name, mime string, content []byte) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
