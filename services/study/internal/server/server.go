package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyai/internal/security"
	"studyai/internal/util"
	"studyai/services/study/internal/app"
)

const (
	serviceName       = "study"
	maxJSONBytes      = 1 << 20
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
	errUnauthorized   = "unauthorized"
)

// TokenVerifier resolves a user access token to its subject.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Tokens         TokenVerifier
	AllowedOrigins []string
	// TrustedProxies are honoured for X-Forwarded-For when logging callers.
	TrustedProxies *util.TrustedProxies
	// Realtime serves /realtime when set.
	Realtime    http.Handler
	Development bool
}

// Server exposes the study endpoints used by the client.
type Server struct {
	app      *app.App
	tokens   TokenVerifier
	origins  []string
	proxies  *util.TrustedProxies
	realtime http.Handler
	dev      bool
	mux      *http.ServeMux
}

func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		tokens:   cfg.Tokens,
		origins:  cfg.AllowedOrigins,
		proxies:  cfg.TrustedProxies,
		realtime: cfg.Realtime,
		dev:      cfg.Development,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithClientIP(s.proxies, util.WithRequestLog(serviceName, util.WithSecurityHeaders(
		security.WithCORSMethods(s.origins, security.CORSMethodsAPI)(util.WithMetrics(serviceName, s.mux))))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if s.realtime != nil {
		s.mux.Handle("GET /realtime", s.realtime)
	}

	s.mux.Handle("POST /api/subjects", s.withUser(s.handleCreateSubject))
	s.mux.Handle("POST /api/subjects/{id}/chapters", s.withUser(s.handleCreateChapter))

	// chapters
	s.mux.Handle("POST /api/chapters/{id}/messages", s.withUser(s.handleCreateMessage))
	s.mux.Handle("GET /api/chapters/{id}/messages", s.withUser(s.handleListMessages))
	s.mux.Handle("DELETE /api/chapters/{id}/messages", s.withUser(s.handleClearMessages))
	s.mux.Handle("POST /api/chapters/{id}/files", s.withUser(s.handleUploadFile))
	s.mux.Handle("GET /api/chapters/{id}/files", s.withUser(s.handleListFiles))
	s.mux.Handle("GET /api/chapters/{id}/flashcards", s.withUser(s.handleChapterFlashcards))

	// files
	s.mux.Handle("GET /api/files/{id}/url", s.withUser(s.handleFileURL))
	s.mux.Handle("GET /api/files/{id}/flashcards", s.withUser(s.handleFileFlashcards))
	s.mux.Handle("DELETE /api/files/{id}", s.withUser(s.handleDeleteFile))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller is the authenticated user of a request.
type caller struct {
	UserID string
	Token  string
}

type userHandler func(http.ResponseWriter, *http.Request, caller)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		userID, err := s.tokens.VerifySubject(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("security_event", "event", "invalid_access_token", "err", err)
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next(w, r, caller{UserID: userID, Token: token})
	})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request, c caller) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subject, err := s.app.CreateSubject(r.Context(), c.UserID, req.Name)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subject)
}

func (s *Server) handleCreateChapter(w http.ResponseWriter, r *http.Request, c caller) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chapter, err := s.app.CreateChapter(r.Context(), c.UserID, r.PathValue("id"), req.Name)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chapter)
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request, c caller) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.app.CreateMessage(r.Context(), c.UserID, r.PathValue("id"), req.Message, c.Token)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, c caller) {
	msgs, err := s.app.ListMessages(r.Context(), c.UserID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs, "count": len(msgs)})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request, c caller) {
	if err := s.app.ClearConversation(r.Context(), c.UserID, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, c caller) {
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, app.ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	record, err := s.app.UploadFile(r.Context(), c.UserID, r.PathValue("id"), app.Upload{
		FileName: header.Filename,
		Size:     header.Size,
		Body:     file,
	}, c.Token)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, c caller) {
	files, err := s.app.ListFiles(r.Context(), c.UserID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files, "count": len(files)})
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request, c caller) {
	url, err := s.app.FileURL(r.Context(), c.UserID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, c caller) {
	if err := s.app.DeleteFile(r.Context(), c.UserID, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleChapterFlashcards(w http.ResponseWriter, r *http.Request, c caller) {
	cards, err := s.app.ListChapterFlashcards(r.Context(), c.UserID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cards, "count": len(cards)})
}

func (s *Server) handleFileFlashcards(w http.ResponseWriter, r *http.Request, c caller) {
	cards, err := s.app.ListFileFlashcards(r.Context(), c.UserID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cards, "count": len(cards)})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, app.ErrFileTooLarge.Error())
	case errors.Is(err, app.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, app.ErrInvalidDocument.Error())
	case app.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrSubjectNotFound), errors.Is(err, app.ErrChapterNotFound), errors.Is(err, app.ErrFileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, security.SafeErrorMessage(err, s.dev))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	switch msg {
	case errUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case app.ErrChapterNotFound.Error():
		return "CHAPTER_NOT_FOUND"
	case app.ErrSubjectNotFound.Error():
		return "SUBJECT_NOT_FOUND"
	case app.ErrFileNotFound.Error():
		return "FILE_NOT_FOUND"
	case app.ErrFileTooLarge.Error():
		return "FILE_TOO_LARGE"
	case app.ErrExtensionNotAllowed.Error():
		return "FILE_UNSUPPORTED_TYPE"
	case app.ErrInvalidDocument.Error():
		return "FILE_INVALID_DOCUMENT"
	case app.ErrInvalidMessage.Error():
		return "CHAT_INVALID_MESSAGE"
	}

	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "FILE_TOO_LARGE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
