package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/exam-core-api/internal/grading"
	"github.com/noah-isme/exam-core-api/internal/handler"
	"github.com/noah-isme/exam-core-api/internal/middleware"
	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/repository"
	"github.com/noah-isme/exam-core-api/internal/service"
	rediscache "github.com/noah-isme/exam-core-api/pkg/cache"
	"github.com/noah-isme/exam-core-api/pkg/config"
	"github.com/noah-isme/exam-core-api/pkg/database"
	"github.com/noah-isme/exam-core-api/pkg/jobs"
	"github.com/noah-isme/exam-core-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/exam-core-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/exam-core-api/pkg/middleware/requestid"
	"github.com/noah-isme/exam-core-api/pkg/storage"
)

// queueRef defers the export queue binding: the queue's handler is the export
// service, which itself needs a dispatcher at construction time.
type queueRef struct {
	queue *jobs.Queue
}

func (r *queueRef) Enqueue(job jobs.Job) error {
	if r.queue == nil {
		return errors.New("export queue not started")
	}
	return r.queue.Enqueue(job)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	scale := grading.NewScale(cfg.Exams.FailLabel)

	examRepo := repository.NewExamRepository(db)
	resultRepo := repository.NewExamResultRepository(db)
	summaryRepo := repository.NewExamSummaryRepository(db)
	cardRepo := repository.NewReportCardRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	userRepo := repository.NewUserRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := rediscache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.SummaryTTL, logr, true)
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "exam-core-api",
	})
	examSvc := service.NewExamService(examRepo, rosterRepo, userRepo, metricsSvc, validate, logr)
	marksSvc := service.NewMarksService(resultRepo, examRepo, rosterRepo, userRepo, metricsSvc, validate, logr, cfg.Exams.DeadlineAdminOnly)
	summarySvc := service.NewSummaryService(summaryRepo, examRepo, resultRepo, rosterRepo, metricsSvc, cacheSvc, scale, logr)
	cardSvc := service.NewReportCardService(cardRepo, examRepo, rosterRepo, resultRepo, userRepo, metricsSvc, cacheSvc, scale, validate, logr)
	rosterSvc := service.NewRosterService(rosterRepo, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		jobRepo := repository.NewExportJobRepository(db)

		dispatcher := &queueRef{}
		exportSvc = service.NewExportService(jobRepo, cardRepo, fileStore, dispatcher, signer, service.ExportServiceConfig{
			APIPrefix:       cfg.APIPrefix,
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			MaxRetries:      cfg.Exports.WorkerRetries,
		}, logr)

		queue := jobs.NewQueue("export", exportSvc.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		dispatcher.queue = queue
		queue.Start(ctx)
		defer queue.Stop()

		exportSvc.RecoverPendingJobs(ctx)
		exportSvc.StartCleanup(ctx)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	registerRoutes(api, cfg, routeDeps{
		auth:    handler.NewAuthHandler(authSvc),
		exams:   handler.NewExamHandler(examSvc),
		marks:   handler.NewMarksHandler(marksSvc),
		summary: handler.NewSummaryHandler(summarySvc),
		cards:   handler.NewReportCardHandler(cardSvc),
		roster:  handler.NewRosterHandler(rosterSvc),
		users:   handler.NewUserHandler(userSvc),
		metrics: metricsHandler,
		authSvc: authSvc,
		audits:  userRepo,
		exports: exportSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}

type routeDeps struct {
	auth    *handler.AuthHandler
	exams   *handler.ExamHandler
	marks   *handler.MarksHandler
	summary *handler.SummaryHandler
	cards   *handler.ReportCardHandler
	roster  *handler.RosterHandler
	users   *handler.UserHandler
	metrics *handler.MetricsHandler
	authSvc *service.AuthService
	audits  *repository.UserRepository
	exports *service.ExportService
}

func registerRoutes(api *gin.RouterGroup, cfg *config.Config, deps routeDeps) {
	api.POST("/auth/login", deps.auth.Login)
	api.POST("/auth/refresh", deps.auth.Refresh)

	authed := api.Group("", middleware.JWT(deps.authSvc))

	authed.POST("/auth/logout", deps.auth.Logout)
	authed.POST("/auth/change-password", deps.auth.ChangePassword)
	authed.GET("/auth/me", deps.auth.Me)

	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

	exams := authed.Group("/exams")
	exams.GET("", deps.exams.List)
	exams.GET("/:id", deps.exams.Get)
	exams.GET("/:id/workflow", deps.exams.Workflow)
	exams.POST("", adminOnly, deps.exams.Create)
	exams.POST("/:id/start-marks-entry", adminOnly, deps.exams.StartMarksEntry)
	exams.POST("/:id/advance-review", staff, deps.exams.AdvanceToReview)
	exams.POST("/:id/ready-to-publish", adminOnly, deps.exams.ReadyToPublish)
	exams.POST("/:id/publish", adminOnly, deps.exams.Publish)
	exams.PATCH("/:id/deadlines", adminOnly, deps.exams.UpdateDeadlines)
	exams.POST("/:id/retire", adminOnly, deps.exams.Retire)
	exams.POST("/:id/restore", adminOnly, deps.exams.Restore)

	exams.POST("/:id/marks", staff, deps.marks.Submit)
	exams.GET("/:id/results", deps.marks.Results)
	exams.DELETE("/:id/subjects/:subjectId/results/:studentId", adminOnly, deps.marks.RemoveResult)

	exams.POST("/:id/summaries/recompute", staff,
		middleware.Audit(deps.audits, models.AuditActionSummaryRebuild, "exam"), deps.summary.Recompute)
	exams.GET("/:id/summaries", deps.summary.List)
	exams.GET("/:id/summaries/:studentId", deps.summary.ForStudent)

	cards := authed.Group("/report-cards")
	cards.POST("/generate", staff, deps.cards.Generate)
	cards.GET("/generations", deps.cards.ListGenerations)
	cards.GET("/generations/:generationId/cards", deps.cards.Cards)
	cards.GET("/generations/:generationId/cards/:studentId", deps.cards.StudentCard)
	cards.PATCH("/cards/:cardId/status", adminOnly, deps.cards.UpdateCardStatus)

	authed.GET("/grades/:id/classes", staff, deps.roster.Classes)
	authed.GET("/classes/:id/students", staff, deps.roster.Students)
	authed.GET("/subjects", staff, deps.roster.Subjects)

	users := authed.Group("/users", adminOnly)
	users.POST("", deps.users.Create)
	users.GET("", deps.users.List)
	users.GET("/:id", deps.users.Get)
	users.DELETE("/:id", deps.users.Deactivate)

	authed.GET("/ops/metrics", adminOnly, deps.metrics.Snapshot)

	if cfg.Exports.Enabled && deps.exports != nil {
		exportHandler := handler.NewExportHandler(deps.exports)
		exports := authed.Group("/exports", staff)
		exports.POST("", middleware.Audit(deps.audits, models.AuditActionExportRequest, "export_job"), exportHandler.Create)
		exports.GET("/:id/status", exportHandler.Status)
		// Downloads authenticate with the signed token, not a session.
		api.GET("/downloads/:token", exportHandler.Download)
	}
}
