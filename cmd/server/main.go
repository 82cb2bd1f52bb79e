package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/analyzer"
	"github.com/reviewinsight/backend/internal/auth"
	"github.com/reviewinsight/backend/internal/billing"
	"github.com/reviewinsight/backend/internal/cache"
	"github.com/reviewinsight/backend/internal/config"
	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/email"
	"github.com/reviewinsight/backend/internal/export"
	"github.com/reviewinsight/backend/internal/handlers"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/middleware"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/scraper"
	"github.com/reviewinsight/backend/internal/search"
	"github.com/reviewinsight/backend/internal/storage"
	"github.com/reviewinsight/backend/internal/tasks"
	"github.com/reviewinsight/backend/internal/telemetry"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	if err := logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE")); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("=== ReviewInsight server starting ===")

	// Initialize database
	if err := database.Initialize(); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis backs scrape throttling and the report cache. The server starts
	// without it, degraded.
	redis, err := cache.NewRedisClient(
		os.Getenv("REDIS_HOST"),
		os.Getenv("REDIS_PORT"),
		os.Getenv("REDIS_PASSWORD"),
	)
	if err != nil {
		logger.Log.Warn("Redis unavailable, throttle state will not persist", zap.Error(err))
	} else {
		defer redis.Close()
	}

	// OpenTelemetry tracing (opt-in via OTEL_ENABLED)
	otelEnabled, _ := strconv.ParseBool(os.Getenv("OTEL_ENABLED"))
	samplingRate := 1.0
	if v := os.Getenv("OTEL_SAMPLING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			samplingRate = f
		}
	}
	tp, err := telemetry.InitTracer(telemetry.Config{
		ServiceName:  "reviewinsight-backend",
		Environment:  os.Getenv("ENVIRONMENT"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:      otelEnabled,
		SamplingRate: samplingRate,
	})
	if err != nil {
		logger.Log.Warn("Failed to initialize tracing", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(ctx, tp); err != nil {
				logger.Log.Warn("Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	// Auth service. OAuth providers are optional, login buttons 503 when their
	// credentials are absent.
	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}
	oauthCfg, err := config.LoadOAuthConfig()
	if err != nil {
		logger.Log.Warn("OAuth not fully configured", zap.Error(err))
	}
	authService := auth.NewService(jwtSecret, oauthCfg)

	// Analyzer needs an OpenAI key, there is no degraded mode for the core product
	analyzerService, err := analyzer.NewService()
	if err != nil {
		logger.Log.Fatal("Failed to initialize analyzer", zap.Error(err))
	}

	scraperService := scraper.NewService(redis)

	// Background task queue for scrape-and-analyze jobs
	queue := tasks.NewTaskQueue(scraperService, analyzerService)
	queue.Start()
	defer queue.Stop()

	// Billing. Without a Stripe key the free tier still works, checkout is disabled.
	billingService := billing.NewService()
	if err := billingService.EnsurePlans(); err != nil {
		logger.Log.Fatal("Failed to ensure billing plans", zap.Error(err))
	}

	h := handlers.NewHandlers(authService, queue, billingService)
	if redis != nil {
		h.SetCacheClient(redis)
	}

	// Elasticsearch powers app browse. Optional, browse falls back to SQL.
	searchClient, err := search.NewClient()
	if err != nil {
		logger.Log.Warn("Elasticsearch unavailable, browse will use SQL fallback", zap.Error(err))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := searchClient.InitializeIndices(ctx); err != nil {
			logger.Log.Warn("Failed to initialize search indices", zap.Error(err))
		}
		cancel()
		h.SetSearchClient(searchClient)

		// Reindex an app when its scrape finishes
		queue.SetScrapeCompleteCallback(func(appID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			searchClient.IndexAppFromDB(ctx, database.DB, appID)
		})
	}

	// S3-backed report exports, a paid plan feature
	if bucket := os.Getenv("AWS_BUCKET"); bucket != "" {
		uploader, err := storage.NewS3Uploader(os.Getenv("AWS_REGION"), bucket, os.Getenv("CDN_BASE_URL"))
		if err != nil {
			logger.Log.Warn("Failed to initialize S3 uploader, exports disabled", zap.Error(err))
		} else {
			if err := uploader.CheckBucketAccess(context.Background()); err != nil {
				logger.Log.Warn("S3 bucket access check failed", zap.Error(err))
			}
			h.SetExportService(export.NewService(uploader))
		}
	} else {
		logger.Log.Info("AWS_BUCKET not set, exports disabled")
	}

	// SES transactional email
	if from := os.Getenv("EMAIL_FROM"); from != "" {
		emailService, err := email.NewEmailService(
			os.Getenv("AWS_REGION"),
			from,
			os.Getenv("EMAIL_FROM_NAME"),
			os.Getenv("FRONTEND_URL"),
		)
		if err != nil {
			logger.Log.Warn("Failed to initialize email service", zap.Error(err))
		} else {
			h.SetEmailService(emailService)
			billingService.SetReceiptSender(emailService)

			// Notify the owner when their report is ready
			queue.SetAnalysisCompleteCallback(func(taskID string) {
				var task models.AnalysisTask
				if err := database.DB.Preload("App").Preload("User").
					First(&task, "id = ?", taskID).Error; err != nil {
					logger.Log.Warn("Report-ready lookup failed", zap.Error(err))
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := emailService.SendReportReadyEmail(ctx, task.User.Email, task.App.Name, task.ID); err != nil {
					logger.Log.Warn("Failed to send report-ready email",
						zap.String("task_id", taskID),
						zap.Error(err))
				}
			})
		}
	} else {
		logger.Log.Info("EMAIL_FROM not set, transactional email disabled")
	}

	// Setup Gin router
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.TracingMiddleware("reviewinsight-backend"))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	corsCfg := cors.DefaultConfig()
	if origin := os.Getenv("FRONTEND_URL"); origin != "" {
		corsCfg.AllowOrigins = []string{origin}
	} else {
		corsCfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Stripe-Signature"}
	r.Use(cors.New(corsCfg))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		// Authentication routes (public)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", middleware.RedisRateLimitMiddleware(10, time.Minute), h.Register)
			authGroup.POST("/login", middleware.RedisRateLimitMiddleware(20, time.Minute), h.Login)
			authGroup.POST("/2fa/login", h.Verify2FALogin)
			authGroup.POST("/verify-email", h.VerifyEmail)
			authGroup.POST("/reset-password", middleware.RedisRateLimitMiddleware(5, time.Minute), h.RequestPasswordReset)
			authGroup.POST("/reset-password/confirm", h.ConfirmPasswordReset)

			// OAuth flows
			authGroup.GET("/google", h.GoogleLogin)
			authGroup.GET("/google/callback", h.GoogleCallback)
			authGroup.GET("/github", h.GitHubLogin)
			authGroup.GET("/github/callback", h.GitHubCallback)

			// Two-factor management (protected)
			twoFA := authGroup.Group("/2fa")
			twoFA.Use(h.AuthMiddleware())
			{
				twoFA.GET("/status", h.Get2FAStatus)
				twoFA.POST("/enable", h.Enable2FA)
				twoFA.POST("/verify", h.Verify2FA)
				twoFA.POST("/disable", h.Disable2FA)
				twoFA.POST("/backup-codes", h.RegenerateBackupCodes)
			}
		}

		// Billing webhook and plan listing are public, Stripe has no JWT
		billingGroup := api.Group("/billing")
		{
			billingGroup.POST("/webhook", h.StripeWebhook)
			billingGroup.GET("/plans", h.ListPlans)

			protected := billingGroup.Group("")
			protected.Use(h.AuthMiddleware())
			{
				protected.GET("/usage", h.GetUsage)
				protected.POST("/checkout", h.CreateCheckout)
				protected.POST("/portal", h.CreatePortal)
			}
		}

		// Core analysis routes
		protected := api.Group("")
		protected.Use(h.AuthMiddleware())
		{
			protected.POST("/analyze", h.StartAnalysis)
			protected.GET("/tasks/:id", h.GetAnalysisTask)
			protected.GET("/reports", h.ListReports)
			protected.GET("/reports/:id", h.GetReport)
			protected.POST("/reports/:id/export", h.ExportReport)
			protected.GET("/exports", h.ListExports)

			protected.POST("/compare", h.StartComparison)
			protected.GET("/compare/:id", h.GetComparison)

			protected.GET("/apps", h.BrowseApps)
			protected.GET("/apps/:id", h.GetApp)
			protected.GET("/apps/:id/reviews", h.GetAppReviews)

			protected.GET("/users/me", h.GetCurrentUser)
			protected.PATCH("/users/me", h.UpdateProfile)
		}

		// Admin operations
		admin := api.Group("/admin")
		admin.Use(h.AuthMiddleware(), middleware.RequireAdmin())
		{
			admin.GET("/stats", h.AdminStats)
			admin.GET("/tasks", h.AdminListTasks)
			admin.POST("/tasks/:id/retry", h.AdminRetryTask)
			admin.DELETE("/apps/:id", h.AdminDeleteApp)
		}
	}

	// Server configuration
	port := os.Getenv("PORT")
	if port == "" {
		port = "8787"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("ReviewInsight backend listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}
