package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loungehq/curator/internal/config"
	"github.com/loungehq/curator/internal/models"
	"github.com/loungehq/curator/internal/service"
	"github.com/loungehq/curator/internal/service/brightdata"
	"github.com/loungehq/curator/internal/service/classifier"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Collector   *service.CollectorService
	Reconciler  *service.ReconcilerService
	Scorer      *service.ScorerService
	Lifecycle   *service.LifecycleService
	Corrections *service.CorrectionService
	Digest      *service.DigestService
	Stats       *service.StatsService
	Queue       *service.JobQueue
	Scheduler   *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// External collaborators
	vendor := brightdata.NewClient(&cfg.BrightData, logger)
	cls := classifier.NewClient(&cfg.Classifier, logger)

	var guard service.DedupGuard
	if cfg.Redis.Enabled {
		redisGuard, err := service.NewRedisDedupGuard(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis dedup guard: %w", err)
		}
		guard = redisGuard
	}

	// Initialize services
	stats := service.NewStatsService(db, logger)
	collector := service.NewCollectorService(db, vendor, logger)
	reconciler := service.NewReconcilerService(db, vendor, stats, logger)
	lifecycle := service.NewLifecycleService(db, stats, logger)
	scorer := service.NewScorerService(db, cls, lifecycle, stats, logger)
	corrections := service.NewCorrectionService(db, cls, stats, logger)
	digest := service.NewDigestService(db, stats, logger)
	queue := service.NewJobQueue(&cfg.Queue, guard, logger)
	scheduler := service.NewScheduler(&cfg.Scheduler, logger, queue)

	analysisWindow := scheduler.AnalysisWindow()

	// Bind job types to their operations. Summaries carry partial failures;
	// a returned error means the whole run should be retried by the queue.
	queue.Register(service.JobTypeCollection, func(ctx context.Context) error {
		_, err := collector.CollectAllCreators(ctx)
		return err
	})
	queue.Register(service.JobTypeReconcile, func(ctx context.Context) error {
		reconciler.ReconcilePending(ctx)
		return nil
	})
	queue.Register(service.JobTypeRecover, func(ctx context.Context) error {
		reconciler.RecoverOrphans(ctx)
		return nil
	})
	queue.Register(service.JobTypeScore, func(ctx context.Context) error {
		scorer.ScoreBatch(ctx, service.MaxScoreBatchSize)
		return nil
	})
	queue.Register(service.JobTypeAnalyze, func(ctx context.Context) error {
		corrections.AnalyzeRecent(ctx, analysisWindow)
		if err := stats.CleanupOldData(30); err != nil {
			logger.Warn("Failed to clean up old pipeline stats", zap.Error(err))
		}
		return nil
	})
	queue.Register(service.JobTypeDigest, func(ctx context.Context) error {
		digest.DispatchAll(ctx, cfg.Digest.WindowHours, cfg.Digest.MaxItems)
		return nil
	})

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:      cfg,
		DB:          db,
		Router:      router,
		Logger:      logger,
		Collector:   collector,
		Reconciler:  reconciler,
		Scorer:      scorer,
		Lifecycle:   lifecycle,
		Corrections: corrections,
		Digest:      digest,
		Stats:       stats,
		Queue:       queue,
		Scheduler:   scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
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
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		collections := api.Group("/collections")
		{
			collections.POST("", s.handleStartCollection)
			collections.POST("/reconcile", s.enqueueHandler(service.JobTypeReconcile, "reconcile"))
			collections.POST("/recover", s.enqueueHandler(service.JobTypeRecover, "recover"))
		}

		api.POST("/scoring/run", s.enqueueHandler(service.JobTypeScore, "score"))
		api.POST("/scoring/reevaluate", s.handleReevaluate)
		api.POST("/corrections/analyze", s.enqueueHandler(service.JobTypeAnalyze, "analyze"))

		api.POST("/content/:id/restore", s.handleRestoreContent)

		lounges := api.Group("/lounges")
		{
			lounges.GET("/:id/digest", s.handleDigestPreview)
			lounges.GET("/:id/adjustments", s.handleListAdjustments)
		}

		api.GET("/stats/runs", s.handleRecentRuns)
	}
}

// enqueueHandler returns a trigger endpoint that submits a job and responds
// immediately; the work itself runs on the worker pool.
func (s *Server) enqueueHandler(jobType service.JobType, dedupKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := s.Queue.Submit(jobType, dedupKey)
		if err != nil {
			s.Logger.Error("Failed to enqueue job",
				zap.String("job_type", string(jobType)),
				zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue job"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID.String(), "job_type": string(jobType)})
	}
}

func (s *Server) handleStartCollection(c *gin.Context) {
	var req struct {
		CreatorURLs []string `json:"creator_urls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// Explicit URLs submit directly; submission only registers the vendor job
	// and returns, it never waits for collection to run.
	if len(req.CreatorURLs) > 0 {
		snapshotID, err := s.Collector.StartCollection(c.Request.Context(), req.CreatorURLs)
		if err != nil {
			s.Logger.Error("Failed to start collection", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to start collection"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"snapshot_id": snapshotID})
		return
	}

	job, err := s.Queue.Submit(service.JobTypeCollection, "collect-all")
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue collection"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID.String()})
}

func (s *Server) handleRestoreContent(c *gin.Context) {
	contentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content id"})
		return
	}

	var req struct {
		LoungeID   uint   `json:"lounge_id" binding:"required"`
		RestoredBy string `json:"restored_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lounge_id and restored_by are required"})
		return
	}

	err = s.Lifecycle.Restore(c.Request.Context(), uint(contentID), req.LoungeID, req.RestoredBy)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrContentNotFound), errors.Is(err, service.ErrLoungeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			s.Logger.Error("Failed to restore content", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to restore content"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Content restored"})
}

// handleReevaluate re-arbitrates recently scored content against current
// thresholds. Pure database work, so it runs inline rather than on the queue.
func (s *Server) handleReevaluate(c *gin.Context) {
	windowHours, _ := strconv.Atoi(c.DefaultQuery("window_hours", "24"))
	if windowHours <= 0 {
		windowHours = 24
	}

	summary := s.Lifecycle.ReevaluateRecent(c.Request.Context(), time.Duration(windowHours)*time.Hour)
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleDigestPreview(c *gin.Context) {
	loungeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lounge id"})
		return
	}

	windowHours, _ := strconv.Atoi(c.DefaultQuery("window_hours", strconv.Itoa(s.Config.Digest.WindowHours)))
	maxItems, _ := strconv.Atoi(c.DefaultQuery("max_items", strconv.Itoa(s.Config.Digest.MaxItems)))

	items, err := s.Digest.SelectForDigest(c.Request.Context(), uint(loungeID), windowHours, maxItems)
	if err != nil {
		if errors.Is(err, service.ErrLoungeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Lounge not found"})
			return
		}
		s.Logger.Error("Failed to select digest", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select digest"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (s *Server) handleListAdjustments(c *gin.Context) {
	loungeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lounge id"})
		return
	}

	var adjustments []models.PromptAdjustment
	err = s.DB.Where("lounge_id = ?", uint(loungeID)).
		Order("created_at desc").
		Find(&adjustments).Error
	if err != nil {
		s.Logger.Error("Failed to list adjustments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list adjustments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"adjustments": adjustments})
}

func (s *Server) handleRecentRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := s.Stats.GetRecentRuns(limit)
	if err != nil {
		s.Logger.Error("Failed to load pipeline runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pipeline runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) Start(ctx context.Context) error {
	// Start worker pool before the scheduler so enqueued jobs have consumers
	if err := s.Queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop producing new jobs first, then drain the pool
	s.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.Queue.Stop(shutdownCtx); err != nil {
		s.Logger.Warn("Job queue did not drain cleanly", zap.Error(err))
	}

	if s.Server == nil {
		return nil
	}

	return s.Server.Shutdown(shutdownCtx)
}
