package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"syndicate/internal/adapter"
	"syndicate/internal/adapter/webhook"
	"syndicate/internal/config"
	"syndicate/internal/external"
	"syndicate/internal/maintenance"
	"syndicate/internal/metrics"
	"syndicate/internal/models"
	"syndicate/internal/queue"
	"syndicate/internal/retry"
	"syndicate/internal/scheduler"
	"syndicate/internal/store"
	"syndicate/internal/worker"
)

// Server wires the scheduling core together and exposes it over HTTP.
// Component lifecycles are owned here: Start launches the queue
// dispatcher, the maintenance sweeper, and the HTTP listener; Shutdown
// stops them in reverse order.
type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Scheduler   *scheduler.Scheduler
	Engagements store.EngagementStore

	queue   queue.Queue
	sweeper *maintenance.Sweeper
	workers []interface{ Register() }
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	policy := retry.NewPolicy(cfg.BaseRetryDelay())
	queueCfg := cfg.QueueOptions()

	var (
		posts       store.PostStore
		engagements store.EngagementStore
		q           queue.Queue
		purger      maintenance.JobPurger
	)
	switch cfg.Storage.Driver {
	case "memory":
		mem := store.NewMemoryStore()
		posts, engagements = mem, mem
		q = queue.NewMemoryQueue(policy, queueCfg, logger)
	case "postgres":
		db, err := store.NewDatabase(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		gormStore := store.NewGormStore(db)
		posts, engagements = gormStore, gormStore
		gormQueue := queue.NewGormQueue(db, policy, queueCfg, logger)
		q, purger = gormQueue, gormQueue
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// Upstream collaborator stand-ins; replaced with real service clients
	// when those systems are reachable from this deployment.
	contents := external.NewMemoryContentStore()
	accounts := external.NewMemoryAccountStore()
	credentials := external.NewMemoryCredentialStore(0)

	registry := adapter.NewRegistry()
	if cfg.Broker.Enabled {
		broker := webhook.NewBroker(cfg.Broker, logger)
		if err := registry.RegisterBroker(cfg.Broker.Name, broker); err != nil {
			return nil, err
		}
		logger.Info("Webhook broker adapter registered", zap.String("broker", cfg.Broker.Name))
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(posts, q, logger)

	publishWorker := worker.NewPublishWorker(posts, q, contents, accounts, credentials, registry, policy, collector, logger)
	publishWorker.SetAnalyticsDelay(cfg.AnalyticsDelay())

	analyticsWorker := worker.NewAnalyticsWorker(posts, engagements, accounts, credentials, registry, q, logger)
	analyticsWorker.SetSampling(cfg.AnalyticsDelay(), cfg.Publishing.AnalyticsSamples)

	credentialWorker := worker.NewCredentialWorker(accounts, credentials, q, logger)

	sweeper := maintenance.NewSweeper(cfg.MaintenanceOptions(), posts, accounts, q, purger, collector, logger)

	srv := &Server{
		Config:      cfg,
		Router:      gin.New(),
		Logger:      logger,
		Scheduler:   sched,
		Engagements: engagements,
		queue:       q,
		sweeper:     sweeper,
		workers:     []interface{ Register() }{publishWorker, analyticsWorker, credentialWorker},
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.handleHealth)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api/v1")
	{
		posts := api.Group("/posts")
		{
			posts.POST("", s.handleSchedulePost)
			posts.POST("/cross", s.handleCrossPost)
			posts.GET("", s.handleListPosts)
			posts.GET("/:id/engagement", s.handleGetEngagement)
			posts.DELETE("/:id", s.handleCancelPost)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	counts, err := s.Scheduler.Stats(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to collect post stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "degraded"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"posts":  counts,
	})
}

type scheduleRequest struct {
	OrganizationID  string    `json:"organization_id" binding:"required"`
	ContentPieceID  string    `json:"content_piece_id" binding:"required"`
	SocialAccountID string    `json:"social_account_id" binding:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.Scheduler.SchedulePost(c.Request.Context(), scheduler.Intent{
		OrganizationID:  req.OrganizationID,
		ContentPieceID:  req.ContentPieceID,
		SocialAccountID: req.SocialAccountID,
		ScheduledAt:     req.ScheduledAt,
	})
	if err != nil {
		s.renderSchedulerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type crossPostRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
	ContentPieceID string `json:"content_piece_id" binding:"required"`
	Targets        []struct {
		SocialAccountID string    `json:"social_account_id" binding:"required"`
		ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	} `json:"targets" binding:"required,min=1"`
}

func (s *Server) handleCrossPost(c *gin.Context) {
	var req crossPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targets := make([]scheduler.CrossPostTarget, 0, len(req.Targets))
	for _, target := range req.Targets {
		targets = append(targets, scheduler.CrossPostTarget{
			SocialAccountID: target.SocialAccountID,
			ScheduledAt:     target.ScheduledAt,
		})
	}

	result := s.Scheduler.CrossPost(c.Request.Context(), req.OrganizationID, req.ContentPieceID, targets)
	c.JSON(http.StatusOK, gin.H{
		"scheduled": result.ScheduledPostIDs,
		"failures":  result.Failures,
	})
}

func (s *Server) handleListPosts(c *gin.Context) {
	organizationID := c.Query("organization_id")
	if organizationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}

	filter := store.ListFilter{
		Status:          models.PostStatus(c.Query("status")),
		SocialAccountID: c.Query("social_account_id"),
		ContentPieceID:  c.Query("content_piece_id"),
	}

	posts, err := s.Scheduler.ListScheduledPosts(c.Request.Context(), organizationID, filter)
	if err != nil {
		s.Logger.Error("Failed to list posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleGetEngagement(c *gin.Context) {
	snapshots, err := s.Engagements.ListSnapshots(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.Logger.Error("Failed to list engagement", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list engagement"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

func (s *Server) handleCancelPost(c *gin.Context) {
	err := s.Scheduler.CancelScheduledPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderSchedulerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) renderSchedulerError(c *gin.Context, err error) {
	var (
		validationErr   *scheduler.ValidationError
		invalidStateErr *scheduler.InvalidStateError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &invalidStateErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
	default:
		s.Logger.Error("Scheduler operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) Start(ctx context.Context) error {
	for _, w := range s.workers {
		w.Register()
	}
	if err := s.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	if err := s.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if s.Server != nil {
		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
	}
	s.sweeper.Stop()
	s.queue.Stop()
	return firstErr
}
