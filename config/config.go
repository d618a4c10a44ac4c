package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	PatternConfig      PatternConfig      `json:"pattern"`
	OptimizationConfig OptimizationConfig `json:"optimization"`
	BlackSwanConfig    BlackSwanConfig    `json:"black_swan"`
	WeightsConfig      WeightsConfig      `json:"weights"`
	LearningConfig     LearningConfig     `json:"learning"`
}

// DatabaseConfig holds the SQLite store configuration
type DatabaseConfig struct {
	Path string `json:"path"` // SQLite file path, ":memory:" for tests
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	CacheTTL int    `json:"cache_ttl"` // Seconds
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// PatternConfig holds pattern-mining thresholds
type PatternConfig struct {
	SuccessThreshold float64 `json:"success_threshold"` // Min win rate for a success pattern
	FailureThreshold float64 `json:"failure_threshold"` // Max win rate for a failure pattern
	MinSampleSize    int     `json:"min_sample_size"`   // Min trades per group to persist
	ClusterCount     int     `json:"cluster_count"`     // K-means cluster target
	ClusterMaxIter   int     `json:"cluster_max_iter"`
	MinSupport       float64 `json:"min_support"`    // Apriori minimum support
	MinConfidence    float64 `json:"min_confidence"` // Association rule minimum confidence
}

// OptimizationConfig holds optimizer settings
type OptimizationConfig struct {
	GridSearchEnabled   bool    `json:"grid_search_enabled"`
	BayesianEnabled     bool    `json:"bayesian_enabled"`
	BayesianInitPoints  int     `json:"bayesian_init_points"`
	ABMinSampleSize     int     `json:"ab_min_sample_size"`
	ABConfidenceLevel   float64 `json:"ab_confidence_level"`
	DecayRate           float64 `json:"decay_rate"`
	MinWeight           float64 `json:"min_weight"`
	EvaluationWindowDay int     `json:"evaluation_window_days"`
}

// BlackSwanConfig holds crisis-detector settings
type BlackSwanConfig struct {
	Level1Threshold float64 `json:"level1_threshold"`
	Level2Threshold float64 `json:"level2_threshold"`
	Level3Threshold float64 `json:"level3_threshold"`
	Contamination   float64 `json:"contamination"`
	TreeCount       int     `json:"tree_count"`
	MinTrainingRows int     `json:"min_training_rows"`
}

// WeightsConfig holds the adaptive weight table settings
type WeightsConfig struct {
	AdaptationRate    float64 `json:"adaptation_rate"`
	PerformanceWindow int     `json:"performance_window"` // Days
	MinWeight         float64 `json:"min_weight"`
	MaxWeight         float64 `json:"max_weight"`
}

// LearningConfig controls the periodic learning cycle
type LearningConfig struct {
	Enabled       bool `json:"enabled"`
	CycleInterval int  `json:"cycle_interval"` // Seconds between cycles
	LookbackDays  int  `json:"lookback_days"`
}

// Load reads config.json (if present) and applies environment overrides
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Path = getEnvOrDefault("DATABASE_PATH", cfg.DatabaseConfig.Path)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.CacheTTL = getEnvIntOrDefault("REDIS_CACHE_TTL", cfg.RedisConfig.CacheTTL)

	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", "true") == "true"
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	cfg.OptimizationConfig.GridSearchEnabled = getEnvOrDefault("OPT_GRID_SEARCH_ENABLED", "true") == "true"
	cfg.OptimizationConfig.BayesianEnabled = getEnvOrDefault("OPT_BAYESIAN_ENABLED", "true") == "true"

	cfg.LearningConfig.Enabled = getEnvOrDefault("LEARNING_ENABLED", "true") == "true"
	cfg.LearningConfig.CycleInterval = getEnvIntOrDefault("LEARNING_CYCLE_INTERVAL", cfg.LearningConfig.CycleInterval)
	cfg.LearningConfig.LookbackDays = getEnvIntOrDefault("LEARNING_LOOKBACK_DAYS", cfg.LearningConfig.LookbackDays)
}

// applyDefaults fills zero values with the operating defaults
func applyDefaults(cfg *Config) {
	if cfg.DatabaseConfig.Path == "" {
		cfg.DatabaseConfig.Path = "learning.db"
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.CacheTTL == 0 {
		cfg.RedisConfig.CacheTTL = 300
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}

	if cfg.PatternConfig.SuccessThreshold == 0 {
		cfg.PatternConfig.SuccessThreshold = 0.6
	}
	if cfg.PatternConfig.FailureThreshold == 0 {
		cfg.PatternConfig.FailureThreshold = 0.4
	}
	if cfg.PatternConfig.MinSampleSize == 0 {
		cfg.PatternConfig.MinSampleSize = 10
	}
	if cfg.PatternConfig.ClusterCount == 0 {
		cfg.PatternConfig.ClusterCount = 5
	}
	if cfg.PatternConfig.ClusterMaxIter == 0 {
		cfg.PatternConfig.ClusterMaxIter = 300
	}
	if cfg.PatternConfig.MinSupport == 0 {
		cfg.PatternConfig.MinSupport = 0.1
	}
	if cfg.PatternConfig.MinConfidence == 0 {
		cfg.PatternConfig.MinConfidence = 0.6
	}

	if cfg.OptimizationConfig.BayesianInitPoints == 0 {
		cfg.OptimizationConfig.BayesianInitPoints = 10
	}
	if cfg.OptimizationConfig.ABMinSampleSize == 0 {
		cfg.OptimizationConfig.ABMinSampleSize = 100
	}
	if cfg.OptimizationConfig.ABConfidenceLevel == 0 {
		cfg.OptimizationConfig.ABConfidenceLevel = 0.95
	}
	if cfg.OptimizationConfig.DecayRate == 0 {
		cfg.OptimizationConfig.DecayRate = 0.95
	}
	if cfg.OptimizationConfig.MinWeight == 0 {
		cfg.OptimizationConfig.MinWeight = 0.1
	}
	if cfg.OptimizationConfig.EvaluationWindowDay == 0 {
		cfg.OptimizationConfig.EvaluationWindowDay = 30
	}

	if cfg.BlackSwanConfig.Level1Threshold == 0 {
		cfg.BlackSwanConfig.Level1Threshold = 0.3
	}
	if cfg.BlackSwanConfig.Level2Threshold == 0 {
		cfg.BlackSwanConfig.Level2Threshold = 0.6
	}
	if cfg.BlackSwanConfig.Level3Threshold == 0 {
		cfg.BlackSwanConfig.Level3Threshold = 0.8
	}
	if cfg.BlackSwanConfig.Contamination == 0 {
		cfg.BlackSwanConfig.Contamination = 0.1
	}
	if cfg.BlackSwanConfig.TreeCount == 0 {
		cfg.BlackSwanConfig.TreeCount = 100
	}
	if cfg.BlackSwanConfig.MinTrainingRows == 0 {
		cfg.BlackSwanConfig.MinTrainingRows = 100
	}

	if cfg.WeightsConfig.AdaptationRate == 0 {
		cfg.WeightsConfig.AdaptationRate = 0.1
	}
	if cfg.WeightsConfig.PerformanceWindow == 0 {
		cfg.WeightsConfig.PerformanceWindow = 30
	}
	if cfg.WeightsConfig.MinWeight == 0 {
		cfg.WeightsConfig.MinWeight = 0.05
	}
	if cfg.WeightsConfig.MaxWeight == 0 {
		cfg.WeightsConfig.MaxWeight = 0.5
	}

	if cfg.LearningConfig.CycleInterval == 0 {
		cfg.LearningConfig.CycleInterval = 3600
	}
	if cfg.LearningConfig.LookbackDays == 0 {
		cfg.LearningConfig.LookbackDays = 30
	}

	// Default-on for the feature flags unless explicitly disabled elsewhere
	if !cfg.OptimizationConfig.GridSearchEnabled && !cfg.OptimizationConfig.BayesianEnabled {
		cfg.OptimizationConfig.GridSearchEnabled = true
		cfg.OptimizationConfig.BayesianEnabled = true
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// CycleIntervalDuration returns the learning cycle interval as a Duration
func (c *LearningConfig) CycleIntervalDuration() time.Duration {
	return time.Duration(c.CycleInterval) * time.Second
}
