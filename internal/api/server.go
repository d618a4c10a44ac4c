// Package api exposes the learning engine over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crypto-learning-engine/config"
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

// Server is the HTTP surface over the learning engine
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig

	repo      *database.Repository
	recorder  *recorder.TradeRecorder
	learner   *patterns.PatternLearner
	optimizer *optimizer.StrategyOptimizer
	weights   *weights.StrategyWeights
	detector  *blackswan.Detector
	runner    *learning.Runner
	cache     *cache.CacheService // nil when Redis is disabled

	hub       *WSHub
	logger    *logging.Logger
	accessLog zerolog.Logger
}

// Deps bundles the engine components the server exposes
type Deps struct {
	Repo      *database.Repository
	Recorder  *recorder.TradeRecorder
	Learner   *patterns.PatternLearner
	Optimizer *optimizer.StrategyOptimizer
	Weights   *weights.StrategyWeights
	Detector  *blackswan.Detector
	Runner    *learning.Runner
	Cache     *cache.CacheService
}

// NewServer builds the router, middleware and WebSocket hub
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		repo:      deps.Repo,
		recorder:  deps.Recorder,
		learner:   deps.Learner,
		optimizer: deps.Optimizer,
		weights:   deps.Weights,
		detector:  deps.Detector,
		runner:    deps.Runner,
		cache:     deps.Cache,
		hub:       NewWSHub(),
		logger:    logging.Default().WithComponent("api"),
		accessLog: zerolog.New(os.Stdout).With().Timestamp().Str("component", "http").Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.accessLogMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s.router = router
	s.setupRoutes()

	go s.hub.Run()

	return s
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:5173", "http://localhost:8080"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// accessLogMiddleware writes one structured line per request
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logging.NewContext(c.Request.Context(), s.logger))
		c.Next()

		s.accessLog.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/weights", s.handleGetWeights)
		api.GET("/weights/history", s.handleGetWeightHistory)
		api.POST("/market-condition", s.handleUpdateMarketCondition)
		api.POST("/composite-score", s.handleCompositeScore)
		api.POST("/position-size", s.handlePositionSize)
		api.GET("/recommendation", s.handleGetRecommendation)

		api.GET("/patterns/best", s.handleGetBestPatterns)
		api.GET("/patterns/risk", s.handleGetRiskPatterns)
		api.GET("/patterns/opportunity", s.handleGetOpportunityPatterns)
		api.GET("/patterns/mistakes", s.handleGetMistakes)
		api.GET("/patterns/rules", s.handleGetAssociationRules)

		api.POST("/trades", s.handleOpenTrade)
		api.POST("/trades/:id/close", s.handleCloseTrade)
		api.GET("/trades/statistics", s.handleTradeStatistics)

		api.GET("/strategies/:id/metrics", s.handleStrategyMetrics)
		api.POST("/strategies/rebalance", s.handleRebalanceStrategies)
		api.GET("/strategies/optimal", s.handleOptimalWeights)
		api.POST("/strategies/abtest", s.handleRunABTest)

		api.POST("/crisis/train", s.handleTrainDetector)
		api.POST("/crisis/probability", s.handleCrisisProbability)
		api.POST("/crisis/alerts", s.handleRecordAlert)
		api.PUT("/crisis/alerts/:id/outcome", s.handleAlertOutcome)
		api.GET("/crisis/report", s.handleCrisisReport)
		api.POST("/crisis/events", s.handleLearnEvent)

		api.POST("/learning/cycle", s.handleRunCycle)
		api.GET("/learning/status", s.handleLearningStatus)

		api.GET("/cache/stats", s.handleCacheStats)
	}
}

// Start begins serving; it blocks until the listener fails or Shutdown
// is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.logger.Info("API server listening", "address", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Hub exposes the WebSocket hub for components that broadcast events
func (s *Server) Hub() *WSHub {
	return s.hub
}
