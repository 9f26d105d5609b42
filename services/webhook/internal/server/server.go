package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyai/internal/security"
	"studyai/internal/util"
	"studyai/pkg/domain"
	"studyai/services/webhook/internal/app"
)

const (
	serviceName     = "webhook"
	maxBodyBytes    = 1 << 20
	retryAfterValue = "60"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	// TrustedProxies are honoured for X-Forwarded-For when logging callers.
	TrustedProxies *util.TrustedProxies
	// Development exposes raw error messages in 500 responses.
	Development bool
}

// Server exposes the webhook endpoints.
type Server struct {
	app     *app.App
	origins []string
	proxies *util.TrustedProxies
	dev     bool
	mux     *http.ServeMux
}

func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		origins: cfg.AllowedOrigins,
		proxies: cfg.TrustedProxies,
		dev:     cfg.Development,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithClientIP(s.proxies, util.WithRequestLog(serviceName, util.WithSecurityHeaders(
		security.WithCORS(s.origins)(util.WithMetrics(serviceName, s.mux))))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("/functions/v1/"+domain.EndpointChatWebhook, s.handleChat)
	s.mux.HandleFunc("/functions/v1/"+domain.EndpointFileUploadWebhook, s.handleUpload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := s.app.ProcessChat(r.Context(), body, r.Header.Get(security.SignatureHeader))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if res.Mock {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Mock response generated",
			"is_mock": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Chat processed successfully",
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := s.app.ProcessUpload(r.Context(), body, r.Header.Get(security.SignatureHeader))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":                 true,
		"message":                 "File upload processed",
		"pdf_processor_triggered": res.PDFProcessorTriggered,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	return body, true
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, app.ErrInvalidJSON):
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
	case errors.Is(err, app.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "Missing required fields")
	case errors.Is(err, app.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "Invalid ID format")
	case errors.Is(err, app.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "Invalid message content")
	case errors.Is(err, app.ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, "Invalid filename")
	case errors.Is(err, app.ErrRateLimited):
		w.Header().Set("Retry-After", retryAfterValue)
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	case errors.Is(err, app.ErrSignedURL):
		writeError(w, http.StatusInternalServerError, "Failed to create signed URL")
	default:
		util.LoggerFromContext(r.Context()).Error("webhook failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, security.SafeErrorMessage(err, s.dev))
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
