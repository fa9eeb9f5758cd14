package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		dbErr      error
		extraErr   error
		wantStatus int
		wantState  string
	}{
		{name: "all healthy", wantStatus: http.StatusOK, wantState: "ready"},
		{name: "database down", dbErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantState: "not_ready"},
		{name: "redis down", extraErr: errors.New("redis unreachable"), wantStatus: http.StatusServiceUnavailable, wantState: "not_ready"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.pingFn = func(context.Context) error { return tc.dbErr }
			env.server.AddReadinessCheck("redis", func(context.Context) error { return tc.extraErr })

			req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
			rr := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d body=%s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			var response map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["status"] != tc.wantState {
				t.Fatalf("expected status=%s, got %v", tc.wantState, response["status"])
			}
			checks, ok := response["checks"].(map[string]any)
			if !ok {
				t.Fatalf("expected checks object, got %v", response["checks"])
			}
			for _, name := range []string{"database", "redis"} {
				if _, ok := checks[name].(map[string]any); !ok {
					t.Fatalf("expected %s check, got %v", name, checks[name])
				}
			}
			if tc.dbErr != nil {
				db := checks["database"].(map[string]any)
				if db["status"] != "error" || db["error"] != tc.dbErr.Error() {
					t.Fatalf("unexpected database check %v", db)
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "huddle_http_request_duration_seconds") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
