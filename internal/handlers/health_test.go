package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

type stubHealthReporter struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthReporter) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthReporter(&stubHealthReporter{err: errors.New("must not be called")}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" || body["commitSha"] != "abc123" || body["environment"] != "prod" {
		t.Fatalf("unexpected build info %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("all checks ok", func(t *testing.T) {
		handlers := NewHealthHandlers(
			WithHealthReporter(&stubHealthReporter{report: domain.HealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.HealthCheck{
					"database": {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond, CheckedAt: now},
				},
				GeneratedAt: now,
			}}),
			WithHealthClock(func() time.Time { return now }),
		)
		rr := httptest.NewRecorder()
		handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		checks, ok := body["checks"].(map[string]any)
		if !ok {
			t.Fatalf("expected checks map, got %v", body["checks"])
		}
		database, ok := checks["database"].(map[string]any)
		if !ok || database["status"] != domain.HealthStatusOK {
			t.Fatalf("unexpected database check %v", checks["database"])
		}
		if database["latencyMs"] != float64(3) {
			t.Fatalf("expected latency 3ms, got %v", database["latencyMs"])
		}
		if _, exists := body["failing"]; exists {
			t.Fatalf("expected no failing checks, got %v", body["failing"])
		}
	})

	t.Run("failing dependency", func(t *testing.T) {
		handlers := NewHealthHandlers(
			WithHealthReporter(&stubHealthReporter{report: domain.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.HealthCheck{
					"redis":    {Status: domain.HealthStatusError, Error: "dial tcp: refused"},
					"database": {Status: domain.HealthStatusOK},
					"firebase": {Status: domain.HealthStatusDegraded},
				},
			}}),
			WithHealthClock(func() time.Time { return now }),
		)
		rr := httptest.NewRecorder()
		handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		failing, ok := body["failing"].([]any)
		if !ok || len(failing) != 2 || failing[0] != "firebase" || failing[1] != "redis" {
			t.Fatalf("expected sorted failing list, got %v", body["failing"])
		}
	})

	t.Run("reporter error", func(t *testing.T) {
		handlers := NewHealthHandlers(
			WithHealthReporter(&stubHealthReporter{err: errors.New("boom")}),
			WithHealthClock(func() time.Time { return now }),
		)
		rr := httptest.NewRecorder()
		handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["status"] != domain.HealthStatusError {
			t.Fatalf("expected error status, got %v", body["status"])
		}
	})
}
