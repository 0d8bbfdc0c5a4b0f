package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandlerHandle(t *testing.T) {
	handler := HealthHandler{Checks: map[string]HealthChecker{
		"database": pingFunc(func(context.Context) error { return nil }),
	}}

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type got %s", got)
	}
}

func TestHealthHandlerReportsFailingCheck(t *testing.T) {
	handler := HealthHandler{Checks: map[string]HealthChecker{
		"database": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}}

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}

	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "degraded" || payload["redis"] != "connection refused" || payload["database"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRouterRejectsWrongMethod(t *testing.T) {
	env := newTestEnv(t)
	env.browser(t).expect(http.MethodPost, "/healthz", nil, http.StatusMethodNotAllowed)
	env.browser(t).expect(http.MethodGet, "/no-such-route", nil, http.StatusNotFound)
}
