// Package cache provides Redis-based caching for learned patterns and
// strategy weights, with graceful degradation when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/logging"
)

// Key formats for the cached learning snapshots
const (
	KeyBestPatterns        = "learning:patterns:best"
	KeyRiskPatterns        = "learning:patterns:risk"
	KeyOpportunityPatterns = "learning:patterns:opportunity"
	PrefixStrategyWeights  = "learning:weights:%s" // market condition
	PrefixStrategyMetrics  = "learning:metrics:%s" // strategy id
	KeyCrisisProbability   = "learning:crisis:probability"
)

// CacheService wraps Redis with a small circuit breaker. When Redis is
// down, operations return errors that callers handle by falling back to
// the SQLite store.
type CacheService struct {
	client *redis.Client
	cfg    config.RedisConfig
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewCacheService connects to Redis. A failed initial connection returns
// the service in degraded mode rather than an error.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		cfg:           cfg,
		logger:        logging.Default().WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.WithError(err).Warn("Initial Redis connection failed, running degraded")
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info("Redis connected", "address", cfg.Address)

	return cs, nil
}

// IsHealthy reports whether Redis is currently usable
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// TTL returns the configured snapshot TTL
func (cs *CacheService) TTL() time.Duration {
	return time.Duration(cs.cfg.CacheTTL) * time.Second
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("Circuit breaker open, Redis marked unhealthy",
				"failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info("Circuit breaker closed, Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth pings Redis in the background once the check interval has
// passed while unhealthy
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// Get retrieves a raw value. redis.Nil is passed through as a cache
// miss, not a failure.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return "", fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", err
		}
		cs.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	return result, nil
}

// Set stores a value with the given TTL, marshaling non-string values
// to JSON
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes a key
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a cached JSON value
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON stores a JSON snapshot with the configured TTL
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}) error {
	return cs.Set(ctx, key, value, cs.TTL())
}

// StrategyWeightsKey builds the cache key for one market condition's
// weight snapshot
func StrategyWeightsKey(marketCondition string) string {
	return fmt.Sprintf(PrefixStrategyWeights, marketCondition)
}

// StrategyMetricsKey builds the cache key for one strategy's metrics
func StrategyMetricsKey(strategyID string) string {
	return fmt.Sprintf(PrefixStrategyMetrics, strategyID)
}

// Stats reports cache health for the monitoring endpoint
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
}

// GetStats returns current cache statistics
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.cfg.Address,
	}
}

// Ping checks Redis connectivity
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Close closes the Redis connection
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}
