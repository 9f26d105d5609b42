package security

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestResolveCORSHeaders(t *testing.T) {
	allowed := []string{"https://app.example.com", "https://admin.example.com"}

	h := ResolveCORSHeaders("https://admin.example.com", allowed)
	if got := h.Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("expected listed origin echoed, got %q", got)
	}
	h = ResolveCORSHeaders("https://evil.example.net", allowed)
	if got := h.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected first allowed origin, got %q", got)
	}
	h = ResolveCORSHeaders("https://anything.example", []string{"*"})
	if got := h.Get("Access-Control-Allow-Origin"); got != "https://anything.example" {
		t.Fatalf("expected wildcard to echo origin, got %q", got)
	}
	h = ResolveCORSHeaders("", nil)
	if got := h.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected * without origin, got %q", got)
	}
	if got := h.Get("Access-Control-Max-Age"); got != "86400" {
		t.Fatalf("unexpected max age %q", got)
	}
	if got := h.Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
		t.Fatalf("unexpected allow headers %q", got)
	}
}

func TestParseOrigins(t *testing.T) {
	if got := ParseOrigins(" https://a.test , ,https://b.test"); !reflect.DeepEqual(got, []string{"https://a.test", "https://b.test"}) {
		t.Fatalf("unexpected origins %v", got)
	}
	if got := ParseOrigins(""); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("expected wildcard default, got %v", got)
	}
}

func TestWithCORSAnswersPreflight(t *testing.T) {
	called := false
	h := WithCORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/chat-webhook", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("preflight must not reach the handler")
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected preflight response %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Fatalf("unexpected methods %q", got)
	}
}

func TestWithCORSDecoratesResponses(t *testing.T) {
	h := WithCORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/chat-webhook", nil)
	req.Header.Set("Origin", "https://x.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected handler status, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://x.test" {
		t.Fatalf("expected cors on error responses, got %q", got)
	}
}

func TestWithCORSMethods(t *testing.T) {
	h := WithCORSMethods([]string{"*"}, CORSMethodsAPI)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodOptions, "/api/files/f1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != CORSMethodsAPI {
		t.Fatalf("allow methods = %q", got)
	}
}
