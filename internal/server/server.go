package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ratewarden/ratewarden/internal/admission"
	"github.com/ratewarden/ratewarden/internal/analytics"
	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/audit"
	"github.com/ratewarden/ratewarden/internal/behavior"
	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/handler"
	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/middleware"
	"github.com/ratewarden/ratewarden/internal/policy"
	"github.com/ratewarden/ratewarden/internal/repository"
	"github.com/ratewarden/ratewarden/internal/storage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	tracker    *behavior.Tracker
	aggregator *analytics.Aggregator
	auditLog   *audit.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	tierRepo := repository.NewTierRepository(postgres)
	overrideRepo := repository.NewOverrideRepository(postgres)
	anomalyRepo := repository.NewAnomalyRepository(postgres)
	logRepo := repository.NewAdmissionLogRepository(postgres)

	auditLog := audit.NewLogger(256, 10)

	recorder := anomaly.NewRecorder(time.Duration(cfg.Anomaly.RetentionDays)*24*time.Hour, anomalyRepo, auditLog)
	detector := anomaly.NewDetector(cfg.Anomaly, anomaly.NewRedisMinuteCounter(redis), recorder)
	blocks := anomaly.NewRedisBlockList(redis)

	resolver := policy.NewDirectoryResolver(redis, tierRepo)
	catalog := policy.NewCatalog(cfg.Tiers, cfg.Endpoints, resolver, overrideRepo, redis, cfg.Limiter.TierCacheTTL())

	tracker := behavior.NewTracker(cfg.Behavior, behavior.NewRedisSummaryStore(redis), detector, m)
	aggregator := analytics.NewAggregator(cfg.Analytics, recorder, logRepo, anomalyRepo, overrideRepo, m)

	engine := admission.NewEngine(
		cfg.Limiter,
		cfg.Anomaly,
		catalog,
		tracker,
		admission.NewRedisWindowStore(redis),
		admission.NewRedisConcurrencyGuard(redis),
		blocks,
		detector,
		m,
	)

	analyticsHandler := handler.NewAnalyticsHandler(aggregator)
	policyHandler := handler.NewPolicyHandler(tierRepo, overrideRepo, anomalyRepo, logRepo, resolver, blocks)
	admitHandler := handler.NewAdmitHandler(engine, tracker, aggregator, cfg.Limiter.DefaultQuota())

	s := &Server{
		router:     router,
		config:     cfg,
		redis:      redis,
		postgres:   postgres,
		tracker:    tracker,
		aggregator: aggregator,
		auditLog:   auditLog,
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.POST("/v1/admit", admitHandler.Admit)

	// Protected surface: every request passes the admission check
	api := router.Group("/api")
	api.Use(middleware.RateLimit(engine, tracker, aggregator, cfg.Limiter.DefaultQuota()))
	api.Any("/*path", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admin := router.Group("/admin")
	admin.Use(middleware.RequireAdmin(cfg.Server.JWTSecret))
	{
		admin.GET("/tiers", policyHandler.ListTiers)
		admin.PUT("/callers/:id/tier", policyHandler.AssignTier)
		admin.PUT("/callers/:id/override", policyHandler.SetOverride)
		admin.DELETE("/callers/:id/override", policyHandler.DeleteOverride)
		admin.POST("/callers/:id/unblock", policyHandler.Unblock)
		admin.GET("/callers/:id/anomalies", policyHandler.GetCallerAnomalies)
		admin.GET("/anomalies", policyHandler.ListAnomalies)
		admin.GET("/logs", policyHandler.ListLogs)
		admin.GET("/analytics", analyticsHandler.GetMetrics)
		admin.GET("/analytics/report", analyticsHandler.GetReport)
		admin.GET("/analytics/callers/:id", analyticsHandler.GetCallerReport)
		admin.GET("/analytics/endpoints", analyticsHandler.GetEndpointReport)
	}

	return s
}

// Seeds the tier catalog and starts the background workers.
func (s *Server) StartWorkers(ctx context.Context) error {
	tierRepo := repository.NewTierRepository(s.postgres)
	if err := tierRepo.Seed(ctx, s.config.Tiers); err != nil {
		return err
	}

	s.auditLog.Start()
	s.tracker.Start()
	s.aggregator.Start()
	return nil
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "ratewarden",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting ratewarden on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Drain queued observations before exiting
	s.aggregator.Stop()
	s.tracker.Stop()
	s.auditLog.Stop()

	return err
}
