package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadyzReportsFailures(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	var body struct {
		Failures map[string]string `json:"failures"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Failures["redis"]; !ok || len(body.Failures) != 1 {
		t.Fatalf("unexpected failures: %v", body.Failures)
	}
}

func TestHealthz(t *testing.T) {
	mux := NewBaseMuxWithReady()
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rw.Code != http.StatusOK || rw.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", rw.Code, rw.Body.String())
	}
}

func TestLoggerLevelAndServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "booking-service", "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"service":"booking-service"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
