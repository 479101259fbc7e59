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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/pawsacademy/training-api/api/swagger"
	"github.com/pawsacademy/training-api/internal/handler"
	"github.com/pawsacademy/training-api/internal/middleware"
	"github.com/pawsacademy/training-api/internal/repository"
	"github.com/pawsacademy/training-api/internal/service"
	"github.com/pawsacademy/training-api/pkg/cache"
	"github.com/pawsacademy/training-api/pkg/config"
	"github.com/pawsacademy/training-api/pkg/database"
	"github.com/pawsacademy/training-api/pkg/export"
	"github.com/pawsacademy/training-api/pkg/jobs"
	"github.com/pawsacademy/training-api/pkg/logger"
	corsmiddleware "github.com/pawsacademy/training-api/pkg/middleware/cors"
	reqidmiddleware "github.com/pawsacademy/training-api/pkg/middleware/requestid"
	"github.com/pawsacademy/training-api/pkg/storage"
)

// @title Paws Academy Training API
// @version 1.0.0
// @description Training program scheduling, enrollment and progression engine
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Progression caching degrades to direct reads without Redis.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()

	// Repositories.
	courseTypes := repository.NewCourseTypeRepository(db)
	pets := repository.NewPetRepository(db)
	vaccinations := repository.NewVaccinationRepository(db)
	series := repository.NewSeriesRepository(db)
	sessions := repository.NewSessionRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	offers := repository.NewWaitlistOfferRepository(db)
	attendance := repository.NewAttendanceRepository(db)
	makeups := repository.NewMakeupRepository(db)
	certificates := repository.NewCertificateRepository(db)
	facilityRules := repository.NewFacilityRuleRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Certificate rendering and signed downloads.
	files, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)
	pdfExporter := export.NewPDFExporter()
	csvExporter := export.NewCSVExporter()

	// Side-effect collaborators behind background queues.
	gateway := service.NewLogPaymentGateway(logr)
	notifier := service.NewLogNotifier(logr)
	dispatcher := service.NewDispatcher(gateway, notifier, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, logr)

	metricsService := service.NewMetricsService()
	authService := service.NewAuthService(service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	}, logr)

	courseTypeService := service.NewCourseTypeService(courseTypes, validate, logr)
	seriesService := service.NewSeriesService(series, sessions, courseTypes, validate, logr)
	eligibilityService := service.NewEligibilityService(pets, vaccinations, courseTypes, facilityRules, certificates, logr)
	makeupService := service.NewMakeupService(makeups, facilityRules, enrollments, attendance, series, dispatcher, metricsService, validate, logr, service.MakeupServiceConfig{
		DefaultPricingKind: cfg.Makeup.DefaultPricingKind,
		DefaultAmountCents: cfg.Makeup.DefaultAmountCents,
		DefaultPercentage:  cfg.Makeup.DefaultPercentage,
		DefaultCredits:     cfg.Makeup.DefaultCredits,
	})
	progressionService := service.NewProgressionService(certificates, courseTypes, pets, series, cacheRepo, pdfExporter, files, signer, dispatcher, metricsService, logr, service.ProgressionServiceConfig{
		CacheEnabled: cfg.Progression.CacheEnabled,
		CacheTTL:     cfg.Progression.CacheTTL,
	})
	enrollmentService := service.NewEnrollmentService(enrollments, series, sessions, attendance, offers, eligibilityService, makeupService, progressionService, gateway, dispatcher, metricsService, validate, logr, service.EnrollmentServiceConfig{
		ClaimWindow: cfg.Booking.ClaimWindow,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	sweeper := service.NewClaimSweeper(enrollmentService, cfg.Booking.SweepInterval, logr)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Handlers.
	healthHandler := handler.NewHealthHandler(db, redisClient)
	courseTypeHandler := handler.NewCourseTypeHandler(courseTypeService)
	seriesHandler := handler.NewSeriesHandler(seriesService)
	eligibilityHandler := handler.NewEligibilityHandler(eligibilityService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService, csvExporter)
	makeupHandler := handler.NewMakeupHandler(makeupService)
	progressionHandler := handler.NewProgressionHandler(progressionService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metricsService))
		r.GET("/metrics", gin.WrapH(metricsService.Handler()))
	}

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Signed certificate downloads need no session; the token is the grant.
	api.GET("/certificates/download", progressionHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	{
		authed.GET("/course-types", courseTypeHandler.List)
		authed.GET("/course-types/:id", courseTypeHandler.Get)

		authed.GET("/series", seriesHandler.List)
		authed.GET("/series/:id", seriesHandler.Get)
		authed.GET("/series/:id/sessions", seriesHandler.Sessions)

		authed.GET("/eligibility", eligibilityHandler.Check)

		authed.GET("/enrollments", enrollmentHandler.List)
		authed.GET("/enrollments/:id", enrollmentHandler.Get)
		authed.POST("/enrollments", enrollmentHandler.Book)
		authed.GET("/enrollments/:id/attendance", enrollmentHandler.Attendance)
		authed.POST("/enrollments/:id/drop", enrollmentHandler.Drop)
		authed.POST("/enrollments/:id/claim", enrollmentHandler.Claim)

		authed.GET("/enrollments/:id/makeup-credits", makeupHandler.Credits)
		authed.GET("/enrollments/:id/makeups", makeupHandler.ListByEnrollment)
		authed.POST("/enrollments/:id/makeups", makeupHandler.Request)
		authed.GET("/makeups/:id", makeupHandler.Get)

		authed.GET("/pets/:id/progression", progressionHandler.Progression)
		authed.GET("/pets/:id/certificates", progressionHandler.Certificates)
		authed.GET("/certificates/:id", progressionHandler.Certificate)
		authed.POST("/certificates/:id/download-link", progressionHandler.DownloadLink)
	}

	staff := api.Group("")
	staff.Use(middleware.JWT(authService), middleware.RequireStaff())
	{
		staff.POST("/course-types", courseTypeHandler.Create)
		staff.DELETE("/course-types/:id", courseTypeHandler.Deactivate)

		staff.POST("/series", seriesHandler.Create)
		staff.POST("/series/:id/sessions/regenerate", seriesHandler.Regenerate)
		staff.PATCH("/series/:id/status", seriesHandler.UpdateStatus)
		staff.GET("/series/:id/roster.csv", enrollmentHandler.RosterCSV)

		staff.POST("/enrollments/:id/attendance", enrollmentHandler.RecordAttendance)

		staff.POST("/makeups/:id/schedule", makeupHandler.Schedule)
		staff.POST("/makeups/:id/complete", makeupHandler.Complete)
		staff.POST("/makeups/:id/cancel", makeupHandler.Cancel)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
