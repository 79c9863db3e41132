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
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutoring-enrollment-api/api/swagger"
	"github.com/noah-isme/tutoring-enrollment-api/internal/handler"
	internalmiddleware "github.com/noah-isme/tutoring-enrollment-api/internal/middleware"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/internal/repository"
	"github.com/noah-isme/tutoring-enrollment-api/internal/service"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/cache"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/config"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/export"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/gateway/mercadopago"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/jobs"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/logger"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/tutoring-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutoring-enrollment-api/pkg/middleware/requestid"
)

// @title Tutoring Enrollment API
// @version 1.0.0
// @description Enrollment, payment settlement and account provisioning for the 2026 program cycle
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var (
		redisRepo *repository.CacheRepository
		cacheRepo service.CacheRepository
	)
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, enrollment cache disabled", zap.Error(err))
		} else {
			redisRepo = repository.NewCacheRepository(redisClient, "tutoring", logr)
			defer redisRepo.Close()
			cacheRepo = redisRepo
		}
	}

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	txManager := database.NewTxManager(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	historyRepo := repository.NewStatusHistoryRepository(db)
	userRepo := repository.NewUserRepository(db)

	validate := validator.New()
	pricingSvc := service.NewPricingService(service.PriceTableFromConfig(cfg.Pricing))
	enrollmentValidator := service.NewEnrollmentValidator(pricingSvc, validate)
	codes := service.NewCodeGenerator()
	provisioner := service.NewAccountProvisioner(userRepo, codes, logr)

	gateway := mercadopago.NewClient(cfg.MercadoPago, logr)
	if gateway.IsMock() {
		logr.Warn("mercadopago running in mock mode, checkout preferences are not real")
	}

	exportSvc := service.NewExportService(enrollmentRepo, logr, export.NewCSVExporter(), export.NewPDFExporter())

	mailer := service.NewCredentialsMailer(mail.NewSender(cfg.Mail, logr), exportSvc, metricsSvc, logr)
	mailQueue := jobs.NewQueue("credentials-mail", mailer.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.BufferSize,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		OnResult:   mailer.OnResult,
		Logger:     logr,
	})
	mailer.Bind(mailQueue)
	mailQueue.Start(ctx)
	defer mailQueue.Stop()

	settlementSvc := service.NewSettlementService(service.SettlementDeps{
		Payments:    paymentRepo,
		Enrollments: enrollmentRepo,
		History:     historyRepo,
		Tx:          txManager,
		Gateway:     gateway,
		Validator:   enrollmentValidator,
		Accounts:    provisioner,
		Codes:       codes,
		Notifier:    mailer,
		Cache:       cacheSvc,
		Metrics:     metricsSvc,
		Logger:      logr,
	})

	enrollmentSvc := service.NewEnrollmentService(service.EnrollmentDeps{
		Repo:      enrollmentRepo,
		Payments:  paymentRepo,
		History:   historyRepo,
		Tx:        txManager,
		Gateway:   gateway,
		Validator: enrollmentValidator,
		Pricing:   pricingSvc,
		Validate:  validate,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Logger:    logr,
	})

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	if cfg.Sweeper.Enabled {
		sweeper := service.NewExpirySweeper(enrollmentSvc, cfg.Sweeper.Schedule, cfg.Sweeper.PendingTTL, cfg.Sweeper.BatchSize, logr)
		if err := sweeper.Start(); err != nil {
			logr.Fatal("failed to start expiry sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	if redisRepo != nil {
		checks["redis"] = redisRepo.Ping
	}

	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, exportSvc)
	webhookHandler := handler.NewWebhookHandler(settlementSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Swagger.Enabled && !cfg.IsProduction() {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authenticated := internalmiddleware.JWT(authSvc)
	adminOnly := internalmiddleware.RequireRoles(models.RoleAdmin)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", authenticated, authHandler.Me)

	enrollments := api.Group("/enrollments")
	enrollments.POST("/quote", enrollmentHandler.Quote)
	enrollments.POST("", enrollmentHandler.Submit)
	enrollments.GET("", authenticated, adminOnly, enrollmentHandler.List)
	enrollments.GET("/export", authenticated, adminOnly, enrollmentHandler.Export)
	enrollments.GET("/:id", authenticated, enrollmentHandler.Get)
	enrollments.GET("/:id/history", authenticated, enrollmentHandler.History)
	enrollments.PATCH("/:id/status", authenticated, adminOnly, enrollmentHandler.UpdateStatus)
	enrollments.POST("/:id/monthly-checkout", authenticated, enrollmentHandler.MonthlyCheckout)

	api.GET("/me/enrollments", authenticated, internalmiddleware.RequireRoles(models.RoleGuardian), enrollmentHandler.Mine)

	api.POST("/webhooks/mercadopago",
		internalmiddleware.WebhookSignature(internalmiddleware.WebhookSignatureConfig{
			Secret: cfg.MercadoPago.WebhookSecret,
			Strict: cfg.IsProduction(),
			Logger: logr,
		}),
		webhookHandler.MercadoPago,
	)

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
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
