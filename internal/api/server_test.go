package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asyncmysql/asyncmysql/internal/config"
	"github.com/asyncmysql/asyncmysql/internal/health"
	"github.com/asyncmysql/asyncmysql/internal/metrics"
)

func newTestServer(t *testing.T, targets map[string]config.TargetConfig) (*Server, *metrics.Collector) {
	t.Helper()
	cfg := &config.Config{
		Defaults: config.ProbeDefaults{
			Interval:       time.Hour,
			ConnectTimeout: time.Second,
			QueryTimeout:   time.Second,
			Query:          "SELECT 1",
		},
		Targets: targets,
	}
	m := metrics.New()
	hc := health.NewChecker(cfg, m)
	return NewServer(hc, m, config.ListenConfig{APIBind: "127.0.0.1", APIPort: 8080}), m
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListTargets(t *testing.T) {
	s, _ := newTestServer(t, map[string]config.TargetConfig{
		"primary": {Host: "db1", Port: 3306, Username: "u", Password: "secret"},
	})

	rec := doRequest(t, s, "GET", "/targets")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result) != 1 || result[0]["id"] != "primary" {
		t.Errorf("result = %v", result)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("password leaked in response")
	}
}

func TestGetTarget(t *testing.T) {
	s, _ := newTestServer(t, map[string]config.TargetConfig{
		"primary": {Host: "db1", Port: 3306, Username: "u"},
	})

	if rec := doRequest(t, s, "GET", "/targets/primary"); rec.Code != http.StatusOK {
		t.Errorf("existing target: status = %d", rec.Code)
	}
	if rec := doRequest(t, s, "GET", "/targets/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing target: status = %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, "GET", "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, "GET", "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("uptime missing")
	}
	if _, ok := body["go_version"]; !ok {
		t.Error("go version missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(t, nil)
	m.SetTargetHealth("primary", true)

	rec := doRequest(t, s, "GET", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mysqlcheck_target_health") {
		t.Error("metrics output missing driver metrics")
	}
}
