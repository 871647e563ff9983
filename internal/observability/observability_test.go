package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Service != "radio-trainer" || status.Status != "healthy" {
		t.Errorf("Unexpected health status: %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) (bool, error) { return true, nil }
	down := func(context.Context) (bool, error) { return false, errors.New("circuit breaker is open") }

	tests := []struct {
		name   string
		checks []DependencyCheck
		code   int
		status string
	}{
		{"all healthy", []DependencyCheck{{"openai", ok}, {"elevenlabs", ok}}, http.StatusOK, "ready"},
		{"one down", []DependencyCheck{{"openai", ok}, {"elevenlabs", down}}, http.StatusServiceUnavailable, "not_ready"},
		{"no checks", nil, http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks...)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON content type, got %q", ct)
			}
			var status HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if status.Status != tt.status {
				t.Errorf("Expected status %q, got %q", tt.status, status.Status)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}

func TestReadinessHandler_ReportsMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(DependencyCheck{Name: "elevenlabs", Check: func(context.Context) (bool, error) {
		return false, errors.New("upstream 502")
	}})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if !strings.Contains(rec.Body.String(), "upstream 502") {
		t.Errorf("Expected dependency message in body, got %s", rec.Body.String())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", false)

	logger.Info().Msg("hidden")
	logger.Warn().Str("provider", "openai").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info line to be filtered at warn level, got %s", out)
	}
	if !strings.Contains(out, `"provider":"openai"`) {
		t.Errorf("Expected structured field in output, got %s", out)
	}

	NewLogger(&buf, "info", false)
}

func TestGRPCHealth(t *testing.T) {
	h := NewGRPCHealth("openai", "elevenlabs")
	ctx := context.Background()

	status, err := h.Check(ctx, "openai")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", status)
	}

	h.SetServing("elevenlabs", false)
	status, err = h.Check(ctx, "elevenlabs")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %s", status)
	}

	if _, err := h.Check(ctx, "deepgram"); err == nil {
		t.Error("Expected an error for an unknown service")
	}
}
