package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/learning"
	"crypto-learning-engine/internal/learning/blackswan"
	"crypto-learning-engine/internal/learning/optimizer"
	"crypto-learning-engine/internal/learning/patterns"
	"crypto-learning-engine/internal/recorder"
	"crypto-learning-engine/internal/weights"
)

// newTestServer wires the full engine onto an in-memory store
func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.NewDB(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(db)
	tradeRecorder := recorder.NewTradeRecorder(repo)
	patternLearner := patterns.NewPatternLearner(tradeRecorder, repo, config.PatternConfig{
		SuccessThreshold: 0.6,
		FailureThreshold: 0.4,
		MinSampleSize:    5,
		ClusterCount:     3,
		ClusterMaxIter:   50,
		MinSupport:       0.1,
		MinConfidence:    0.5,
	})
	strategyOptimizer := optimizer.NewStrategyOptimizer(tradeRecorder, repo, config.OptimizationConfig{
		ABMinSampleSize:     30,
		ABConfidenceLevel:   0.95,
		DecayRate:           0.95,
		MinWeight:           0.1,
		EvaluationWindowDay: 30,
	})
	strategyWeights := weights.NewStrategyWeights(config.WeightsConfig{
		AdaptationRate:    0.1,
		PerformanceWindow: 30,
		MinWeight:         0.05,
		MaxWeight:         0.6,
	})
	detector := blackswan.NewDetector(context.Background(), repo, config.BlackSwanConfig{
		Level1Threshold: 0.3,
		Level2Threshold: 0.6,
		Level3Threshold: 0.8,
		Contamination:   0.1,
		TreeCount:       50,
		MinTrainingRows: 100,
	})
	runner := learning.NewRunner(patternLearner, strategyOptimizer, strategyWeights, nil,
		config.LearningConfig{Enabled: true, LookbackDays: 30})

	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Repo:      repo,
		Recorder:  tradeRecorder,
		Learner:   patternLearner,
		Optimizer: strategyOptimizer,
		Weights:   strategyWeights,
		Detector:  detector,
		Runner:    runner,
	})
}

func doJSON(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
	if response["database"] != "ok" {
		t.Errorf("Expected database 'ok', got '%v'", response["database"])
	}
}

func TestTradeLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)

	entry := map[string]interface{}{
		"symbol":       "BTCUSDT",
		"direction":    "long",
		"strategy_id":  "trend_v1",
		"entry_price":  42000.0,
		"entry_reason": "breakout",
		"indicators":   map[string]float64{"rsi": 61},
		"market_state": "trending",
	}
	w := doJSON(s, http.MethodPost, "/api/trades", entry)
	if w.Code != http.StatusCreated {
		t.Fatalf("open trade: status %d, body %s", w.Code, w.Body.String())
	}

	var opened struct {
		TradeID int64 `json:"trade_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &opened); err != nil {
		t.Fatalf("Failed to parse open response: %v", err)
	}
	if opened.TradeID == 0 {
		t.Fatal("open trade returned no id")
	}

	exit := map[string]interface{}{
		"exit_price":  44000.0,
		"exit_reason": "take profit",
		"pnl":         2000.0,
	}
	w = doJSON(s, http.MethodPost, fmt.Sprintf("/api/trades/%d/close", opened.TradeID), exit)
	if w.Code != http.StatusOK {
		t.Fatalf("close trade: status %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(s, http.MethodGet, "/api/trades/statistics?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("statistics: status %d", w.Code)
	}
	var stats struct {
		TotalTrades   int     `json:"total_trades"`
		WinningTrades int     `json:"winning_trades"`
		TotalPnL      float64 `json:"total_pnl"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to parse statistics: %v", err)
	}
	if stats.TotalTrades != 1 || stats.WinningTrades != 1 {
		t.Errorf("statistics = %+v, want 1 winning trade", stats)
	}
	if stats.TotalPnL != 2000 {
		t.Errorf("total pnl = %v, want 2000", stats.TotalPnL)
	}
}

func TestCloseTradeBadID(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodPost, "/api/trades/not-a-number/close", map[string]interface{}{
		"exit_price": 1.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestPositionSizeValidation(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodPost, "/api/position-size", map[string]interface{}{
		"confidence":      0.8,
		"risk_level":      "medium",
		"account_balance": 0.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for zero balance, got %d", w.Code)
	}

	w = doJSON(s, http.MethodPost, "/api/position-size", map[string]interface{}{
		"confidence":      0.8,
		"risk_level":      "medium",
		"account_balance": 10000.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response struct {
		PositionSize float64 `json:"position_size"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.PositionSize <= 0 {
		t.Errorf("position size = %v, want > 0", response.PositionSize)
	}
}

func TestWeightsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodGet, "/api/weights", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Source  string           `json:"source"`
		Weights weights.Snapshot `json:"weights"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Source != "live" {
		t.Errorf("source = %q, want live with no cache configured", response.Source)
	}
	if len(response.Weights.Strategies) == 0 {
		t.Error("weights snapshot has no strategies")
	}
}

func TestCrisisProbabilityEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Empty indicators are rejected
	w := doJSON(s, http.MethodPost, "/api/crisis/probability", map[string]interface{}{
		"indicators": map[string]float64{},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty indicators, got %d", w.Code)
	}

	w = doJSON(s, http.MethodPost, "/api/crisis/probability", map[string]interface{}{
		"indicators":       map[string]float64{"price_change": -0.02, "rsi": 35},
		"current_position": 0.5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		CrisisProbability float64 `json:"crisis_probability"`
		Action            struct {
			AlertLevel int    `json:"alert_level"`
			ActionType string `json:"action_type"`
		} `json:"action"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.CrisisProbability < 0 || response.CrisisProbability > 1 {
		t.Errorf("crisis probability = %v, want within [0,1]", response.CrisisProbability)
	}
	// The detector is untrained here, so the probability is zero and no
	// alert fires
	if response.Action.AlertLevel != 0 || response.Action.ActionType != "none" {
		t.Errorf("action = %+v, want level 0 / none", response.Action)
	}
}

func TestLearningStatusIdle(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodGet, "/api/learning/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["status"] != "idle" {
		t.Errorf("status = %v, want idle before any cycle", response["status"])
	}
}

func TestRunLearningCycleEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodPost, "/api/learning/cycle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var result struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse cycle result: %v", err)
	}
	// An empty store yields empty analyses, not failures
	if len(result.Errors) != 0 {
		t.Errorf("cycle errors = %v, want none", result.Errors)
	}

	w = doJSON(s, http.MethodGet, "/api/learning/status", nil)
	var status map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse status: %v", err)
	}
	if status["status"] != "running" {
		t.Errorf("status = %v, want running after a cycle", status["status"])
	}
}

func TestCacheStatsDisabled(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodGet, "/api/cache/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Enabled {
		t.Error("cache reported enabled without Redis configured")
	}
}
