package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/api"
	"crypto-learning-engine/internal/cache"
	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/learning"
	"crypto-learning-engine/internal/learning/blackswan"
	"crypto-learning-engine/internal/learning/optimizer"
	"crypto-learning-engine/internal/learning/patterns"
	"crypto-learning-engine/internal/logging"
	"crypto-learning-engine/internal/recorder"
	"crypto-learning-engine/internal/weights"
)

func main() {
	// Local .env is optional; environment variables win either way
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "main",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	db, err := database.NewDB(database.Config{Path: cfg.DatabaseConfig.Path})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Info("Database ready", "path", cfg.DatabaseConfig.Path)

	repo := database.NewRepository(db)

	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			log.Fatalf("Failed to initialize cache: %v", err)
		}
		defer cacheService.Close()
		logger.Info("Redis cache initialized", "address", cfg.RedisConfig.Address)
	} else {
		logger.Info("Redis cache disabled, using SQLite only")
	}

	tradeRecorder := recorder.NewTradeRecorder(repo)
	patternLearner := patterns.NewPatternLearner(tradeRecorder, repo, cfg.PatternConfig)
	strategyOptimizer := optimizer.NewStrategyOptimizer(tradeRecorder, repo, cfg.OptimizationConfig)
	strategyWeights := weights.NewStrategyWeights(cfg.WeightsConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := blackswan.NewDetector(ctx, repo, cfg.BlackSwanConfig)
	logger.Info("Black swan detector initialized")

	runner := learning.NewRunner(patternLearner, strategyOptimizer, strategyWeights, cacheService, cfg.LearningConfig)
	go runner.Run(ctx)

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, api.Deps{
			Repo:      repo,
			Recorder:  tradeRecorder,
			Learner:   patternLearner,
			Optimizer: strategyOptimizer,
			Weights:   strategyWeights,
			Detector:  detector,
			Runner:    runner,
			Cache:     cacheService,
		})

		go func() {
			if err := server.Start(); err != nil {
				log.Fatalf("Failed to start API server: %v", err)
			}
		}()
		logger.Info("API server starting", "host", cfg.ServerConfig.Host, "port", cfg.ServerConfig.Port)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("API server shutdown failed")
		}
	}

	logger.Info("Shutdown complete")
}
