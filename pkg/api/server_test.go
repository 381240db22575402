package api

import (
	"context"
	"encoding/json"
	stderr "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ballhead/ballhead/internal/cache"
	"github.com/ballhead/ballhead/internal/metrics"
	"github.com/ballhead/ballhead/pkg/health"
)

type staticStats struct {
	stats cache.Stats
}

func (s staticStats) Stats() cache.Stats { return s.stats }

type staticHealth struct {
	err error
}

func (h staticHealth) HealthCheck() error { return h.err }

func newTestServer(deps Dependencies) *Server {
	return NewServer(DefaultServerConfig(), deps)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestDefaultServerConfig(t *testing.T) {
	config := DefaultServerConfig()

	if config.Address != "localhost:8080" {
		t.Errorf("Expected address localhost:8080, got %s", config.Address)
	}
	if config.ReadTimeout != 10*time.Second {
		t.Errorf("Expected read timeout 10s, got %v", config.ReadTimeout)
	}
	if config.WriteTimeout != 10*time.Second {
		t.Errorf("Expected write timeout 10s, got %v", config.WriteTimeout)
	}
	if config.IdleTimeout != 60*time.Second {
		t.Errorf("Expected idle timeout 60s, got %v", config.IdleTimeout)
	}
	if config.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", config.ShutdownTimeout)
	}
}

func TestHandleLiveness(t *testing.T) {
	s := newTestServer(Dependencies{})

	w := do(t, s.Handler(), http.MethodGet, "/health/live")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	if alive, _ := decode(t, w)["alive"].(bool); !alive {
		t.Error("Expected alive=true")
	}
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name       string
		readiness  HealthChecker
		wantStatus int
		wantReady  bool
	}{
		{"not configured", nil, http.StatusOK, true},
		{"healthy origin", staticHealth{}, http.StatusOK, true},
		{"open breaker", staticHealth{err: stderr.New("circuit breaker open for sheet-1")}, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Dependencies{Readiness: tt.readiness})

			w := do(t, s.Handler(), http.MethodGet, "/health/ready")
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			body := decode(t, w)
			if ready, _ := body["ready"].(bool); ready != tt.wantReady {
				t.Errorf("Expected ready=%v, got %v", tt.wantReady, body["ready"])
			}
			if !tt.wantReady && !strings.Contains(body["reason"].(string), "sheet-1") {
				t.Errorf("Expected reason to name the failing breaker, got %v", body["reason"])
			}
		})
	}
}

func TestHandleReadinessReportsWarmSets(t *testing.T) {
	tracker := health.NewTracker(health.Config{DegradedThreshold: 1})
	tracker.Register("schedule")
	tracker.RecordError("squads", stderr.New("quota exceeded"))

	s := newTestServer(Dependencies{Readiness: staticHealth{}, Components: tracker})

	w := do(t, s.Handler(), http.MethodGet, "/health/ready")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected a degraded warm set to leave readiness at 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "degraded" {
		t.Errorf("Expected overall status degraded, got %v", body["status"])
	}
	sets, _ := body["warm_sets"].([]interface{})
	if len(sets) != 2 {
		t.Fatalf("Expected 2 warm sets, got %v", body["warm_sets"])
	}
	squads, _ := sets[1].(map[string]interface{})
	if squads["name"] != "squads" || squads["state"] != "degraded" {
		t.Errorf("Unexpected warm set entry: %v", squads)
	}
}

func TestHandleCacheStats(t *testing.T) {
	stats := cache.Stats{
		HitRate:    "75.00%",
		Hits:       3,
		Misses:     1,
		APICalls:   1,
		AvgAPITime: 250 * time.Millisecond,
		CacheSize:  2,
		Uptime:     90*time.Second + 400*time.Millisecond,
		LastReset:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	s := newTestServer(Dependencies{Cache: staticStats{stats: stats}})

	w := do(t, s.Handler(), http.MethodGet, "/cache/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp cacheStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.HitRate != "75.00%" {
		t.Errorf("Expected hit rate 75.00%%, got %s", resp.HitRate)
	}
	if resp.Hits != 3 || resp.Misses != 1 || resp.APICalls != 1 {
		t.Errorf("Unexpected counters: %+v", resp)
	}
	if resp.AvgAPITimeMs != 250 {
		t.Errorf("Expected avg api time 250ms, got %v", resp.AvgAPITimeMs)
	}
	if resp.CacheSize != 2 {
		t.Errorf("Expected cache size 2, got %d", resp.CacheSize)
	}
	if resp.Uptime != "1m30s" {
		t.Errorf("Expected uptime 1m30s, got %s", resp.Uptime)
	}
	if !resp.LastReset.Equal(stats.LastReset) {
		t.Errorf("Expected last reset %v, got %v", stats.LastReset, resp.LastReset)
	}
}

func TestHandleCacheStatsWithoutCache(t *testing.T) {
	s := newTestServer(Dependencies{})

	w := do(t, s.Handler(), http.MethodGet, "/cache/stats")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestHandleCacheStatsFromService(t *testing.T) {
	svc := cache.NewService(nil, cache.Config{})
	s := newTestServer(Dependencies{Cache: svc})

	w := do(t, s.Handler(), http.MethodGet, "/cache/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["hit_rate"] != "0%" {
		t.Errorf("Expected hit rate 0%%, got %v", body["hit_rate"])
	}
	if body["avg_api_time_ms"] != float64(0) {
		t.Errorf("Expected avg api time 0, got %v", body["avg_api_time_ms"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(Dependencies{
		Cache:     staticStats{},
		Readiness: staticHealth{},
		Metrics:   http.NotFoundHandler(),
	})

	for _, path := range []string{"/health/live", "/health/ready", "/cache/stats", "/metrics", "/info"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			w := do(t, s.Handler(), method, path)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s: expected status 405, got %d", method, path, w.Code)
			}
		}
	}
}

func TestHandleMetrics(t *testing.T) {
	collector, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "apitest"})
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	collector.RecordCacheHit(2)
	s := newTestServer(Dependencies{Metrics: collector.Handler()})

	w := do(t, s.Handler(), http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `apitest_cache_requests_total{type="hit"} 2`) {
		t.Errorf("Expected cache hit counter in metrics output, got:\n%s", w.Body.String())
	}
}

func TestMetricsRouteAbsentWithoutCollector(t *testing.T) {
	s := newTestServer(Dependencies{})

	w := do(t, s.Handler(), http.MethodGet, "/metrics")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleInfo(t *testing.T) {
	tests := []struct {
		name        string
		metrics     http.Handler
		wantMetrics bool
	}{
		{"without metrics", nil, false},
		{"with metrics", http.NotFoundHandler(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Dependencies{Metrics: tt.metrics})

			w := do(t, s.Handler(), http.MethodGet, "/info")
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			endpoints, _ := decode(t, w)["endpoints"].([]interface{})
			found := false
			for _, e := range endpoints {
				if e == "/metrics" {
					found = true
				}
			}
			if found != tt.wantMetrics {
				t.Errorf("Expected /metrics listed=%v, endpoints=%v", tt.wantMetrics, endpoints)
			}
		})
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	config := DefaultServerConfig()
	config.Address = addr
	s := NewServer(config, Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/health/live")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Server never became reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
