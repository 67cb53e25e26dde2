package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
)

func setupServer(t *testing.T) (*Server, *storage.RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	redis, err := storage.NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}

	cfg := &config.Config{
		Validator: config.ValidatorConfig{
			Name:     "Test Validator",
			SubnetID: 3,
		},
		API: config.APIConfig{
			Enabled:    true,
			Bind:       "127.0.0.1:0",
			StatsCache: 50 * time.Millisecond,
		},
	}

	return NewServer(cfg, redis), redis, mr
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	w := get(t, s, "/health")
	if w.Code != 200 {
		t.Fatalf("GET /health = %d, want 200", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	redis.SetValidatorStats(&storage.ValidatorStats{
		CurrentSlot: 12,
		PhasesRun:   4,
	})

	s.SetUpstreamStateFunc(func() []UpstreamStatus {
		return []UpstreamStatus{{Name: "primary", Healthy: true, Epoch: 99}}
	})

	w := get(t, s, "/api/status")
	if w.Code != 200 {
		t.Fatalf("GET /api/status = %d, want 200", w.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Undecodable status response: %v", err)
	}
	if resp.Validator != "Test Validator" || resp.SubnetID != 3 {
		t.Errorf("Status identity = %s/%d", resp.Validator, resp.SubnetID)
	}
	if resp.Stats == nil || resp.Stats.CurrentSlot != 12 {
		t.Errorf("Status stats = %+v", resp.Stats)
	}
	if len(resp.Upstreams) != 1 || resp.Upstreams[0].Name != "primary" {
		t.Errorf("Status upstreams = %+v", resp.Upstreams)
	}
}

func TestStatusCaching(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	redis.SetValidatorStats(&storage.ValidatorStats{CurrentSlot: 1})
	get(t, s, "/api/status")

	// Mutate behind the cache; response must stay stale within the window
	redis.SetValidatorStats(&storage.ValidatorStats{CurrentSlot: 2})

	w := get(t, s, "/api/status")
	var resp StatusResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Stats.CurrentSlot != 1 {
		t.Errorf("Cached CurrentSlot = %d, want 1", resp.Stats.CurrentSlot)
	}

	time.Sleep(60 * time.Millisecond)

	w = get(t, s, "/api/status")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Stats.CurrentSlot != 2 {
		t.Errorf("Expired cache CurrentSlot = %d, want 2", resp.Stats.CurrentSlot)
	}
}

func TestPhasesEndpoint(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	for slot := uint64(1); slot <= 3; slot++ {
		redis.WriteSummary(&storage.PhaseSummary{SlotID: slot, Rounds: slot * 2})
	}

	w := get(t, s, "/api/phases?limit=2")
	if w.Code != 200 {
		t.Fatalf("GET /api/phases = %d, want 200", w.Code)
	}

	var resp struct {
		Phases []*storage.PhaseSummary `json:"phases"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Undecodable phases response: %v", err)
	}
	if len(resp.Phases) != 2 {
		t.Fatalf("Phases = %d, want 2", len(resp.Phases))
	}
	if resp.Phases[0].SlotID != 3 {
		t.Errorf("Newest phase slot = %d, want 3", resp.Phases[0].SlotID)
	}
}

func TestScoresEndpoint(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	redis.WriteScores(7, map[string]float64{"aa01": 0.85})

	w := get(t, s, "/api/scores/7")
	if w.Code != 200 {
		t.Fatalf("GET /api/scores/7 = %d, want 200", w.Code)
	}

	var resp struct {
		Slot   uint64             `json:"slot"`
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Undecodable scores response: %v", err)
	}
	if resp.Slot != 7 || resp.Scores["aa01"] != 0.85 {
		t.Errorf("Scores response = %+v", resp)
	}
}

func TestScoresEndpointMissing(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	if w := get(t, s, "/api/scores/999"); w.Code != 404 {
		t.Errorf("GET /api/scores/999 = %d, want 404", w.Code)
	}
	if w := get(t, s, "/api/scores/not-a-slot"); w.Code != 400 {
		t.Errorf("GET /api/scores/not-a-slot = %d, want 400", w.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	s, redis, mr := setupServer(t)
	defer mr.Close()
	defer redis.Close()

	w := get(t, s, "/health")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin header = %q, want *", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Errorf("OPTIONS preflight = %d, want 204", rec.Code)
	}
}
