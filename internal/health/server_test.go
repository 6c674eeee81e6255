package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/deskrelay/internal/metrics"
)

// mockStatsProvider implements StatsProvider for testing.
type mockStatsProvider struct {
	running bool
	stats   Stats
}

func (m *mockStatsProvider) IsRunning() bool {
	return m.running
}

func (m *mockStatsProvider) Stats() Stats {
	return m.stats
}

func TestServer_handleHealth(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); body != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}
}

func TestServer_handleHealth_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestServer_handleHealthz_Running(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		stats: Stats{
			Role:        "agent",
			Connected:   true,
			Sessions:    2,
			MaxSessions: 3,
		},
	}
	s := NewServer(DefaultServerConfig(), provider)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", response["status"])
	}
	if response["role"] != "agent" {
		t.Errorf("expected role 'agent', got %v", response["role"])
	}
	if response["connected"] != true {
		t.Errorf("expected connected true, got %v", response["connected"])
	}
	if int(response["sessions"].(float64)) != 2 {
		t.Errorf("expected sessions 2, got %v", response["sessions"])
	}
	if _, ok := response["agents"]; ok {
		t.Errorf("zero relay counters should be omitted, got %v", response["agents"])
	}
}

func TestServer_handleHealthz_NotRunning(t *testing.T) {
	for name, provider := range map[string]StatsProvider{
		"stopped": &mockStatsProvider{running: false},
		"nil":     nil,
	} {
		s := NewServer(DefaultServerConfig(), provider)

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()

		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status %d, got %d", name, http.StatusServiceUnavailable, rec.Code)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("%s: failed to decode response: %v", name, err)
		}
		if response["status"] != "unavailable" {
			t.Errorf("%s: expected status 'unavailable', got %v", name, response["status"])
		}
	}
}

func TestServer_handleReady(t *testing.T) {
	tests := []struct {
		running  bool
		wantCode int
		wantBody string
	}{
		{true, http.StatusOK, "READY\n"},
		{false, http.StatusServiceUnavailable, "NOT READY\n"},
	}

	for _, tt := range tests {
		s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: tt.running})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()

		s.Handler().ServeHTTP(rec, req)

		if rec.Code != tt.wantCode {
			t.Errorf("running=%v: expected status %d, got %d", tt.running, tt.wantCode, rec.Code)
		}
		if body := rec.Body.String(); body != tt.wantBody {
			t.Errorf("running=%v: expected body %q, got %q", tt.running, tt.wantBody, body)
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.SetSessions(2)

	cfg := DefaultServerConfig()
	cfg.Gatherer = reg
	s := NewServer(cfg, &mockStatsProvider{running: true})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "deskrelay_sessions_active 2") {
		t.Errorf("metrics output missing sessions gauge:\n%s", body)
	}
}

func TestServer_Handle(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	s.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("mounted handler status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := ServerConfig{
		Address:      "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, &mockStatsProvider{running: true})

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if !s.IsRunning() {
		t.Error("expected server to be running")
	}

	addr := s.Address()
	if addr == nil {
		t.Fatal("expected non-nil address")
	}

	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		resp, err = http.Get("http://" + addr.String() + "/health")
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("request failed after retries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}

	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}

func TestServer_DoubleStop(t *testing.T) {
	s := NewServer(ServerConfig{Address: "127.0.0.1:0"}, &mockStatsProvider{running: true})

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("first stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}
