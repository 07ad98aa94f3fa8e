package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"brokerdesk/internal/config"
	"brokerdesk/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	s, err := NewServer(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var ctxID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = types.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if ctxID == "" {
		t.Fatal("expected request ID injected into context")
	}
	if got := w.Header().Get("X-Request-Id"); got != ctxID {
		t.Errorf("expected response header to match context ID %q, got %q", ctxID, got)
	}
}

func TestRequestIDMiddleware_PropagatesIncoming(t *testing.T) {
	var ctxID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = types.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "upstream-77")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if ctxID != "upstream-77" {
		t.Errorf("expected incoming ID reused, got %q", ctxID)
	}
}

func TestRecoverer_ConvertsPanicTo500(t *testing.T) {
	s := newTestServer(t)
	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("panic response is not valid JSON: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected internal error code, got %s", resp.Error.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	s := newTestServer(t)
	handler := s.SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

func TestMountRoutes_HealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health with no probes, got %d", w.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	s := newTestServer(t)
	s.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error { return nil }},
		ProbeFunc{ProbeName: "queue", Fn: func(ctx context.Context) error { return errors.New("unreachable") }},
	}
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with a failing probe, got %d", w.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if resp.Components["database"].Status != "healthy" {
		t.Errorf("expected database healthy, got %+v", resp.Components["database"])
	}
	if resp.Components["queue"].Status != "unhealthy" {
		t.Errorf("expected queue unhealthy, got %+v", resp.Components["queue"])
	}
}
