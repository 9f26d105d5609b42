package security

import (
	"net/http"
	"slices"
	"strings"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type, x-webhook-signature"
	corsAllowMethods = "POST, OPTIONS"

	// CORSMethodsAPI is the method list for the client-facing REST surface.
	CORSMethodsAPI = "GET, POST, DELETE, OPTIONS"
	corsMaxAge       = "86400"
)

// ParseOrigins splits a comma-separated allow-list. Blank input means "*".
func ParseOrigins(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// ResolveCORSHeaders computes the CORS response headers for origin.
// A listed origin, or any origin under "*", is echoed back. Otherwise the
// first allowed origin is returned so the browser rejects the response.
func ResolveCORSHeaders(origin string, allowed []string) http.Header {
	return resolveCORSHeaders(origin, allowed, corsAllowMethods)
}

func resolveCORSHeaders(origin string, allowed []string, methods string) http.Header {
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	wildcard := slices.Contains(allowed, "*")
	allowOrigin := allowed[0]
	if origin != "" && (wildcard || slices.Contains(allowed, origin)) {
		allowOrigin = origin
	}
	h := http.Header{}
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Max-Age", corsMaxAge)
	h.Set("Vary", "Origin")
	return h
}

// WithCORS decorates every response with CORS headers and answers
// preflight requests with "ok" without reaching next.
func WithCORS(allowed []string) func(http.Handler) http.Handler {
	return WithCORSMethods(allowed, corsAllowMethods)
}

// WithCORSMethods is WithCORS with a custom Access-Control-Allow-Methods list.
func WithCORSMethods(allowed []string, methods string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range resolveCORSHeaders(r.Header.Get("Origin"), allowed, methods) {
				w.Header()[k] = v
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
