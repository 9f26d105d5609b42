package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusRecorderDefaultsAndFirstWriteWins(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if rec.code() != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", rec.code())
	}
	rec.WriteHeader(http.StatusTooManyRequests)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.code() != http.StatusTooManyRequests {
		t.Fatalf("expected first status to stick, got %d", rec.code())
	}
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatalf("expected hijack error from recorder without hijacker")
	}
}

func TestWithMetricsPassesThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files/{id}/url", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := WithRequestLog("test", WithMetrics("test", mux))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/abc/url", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected handler status, got %d", rec.Code)
	}
}
