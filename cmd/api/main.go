// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/teachniche/api/internal/api"
	"github.com/teachniche/api/internal/auth"
	"github.com/teachniche/api/internal/config"
	"github.com/teachniche/api/internal/db"
	"github.com/teachniche/api/internal/health"
	"github.com/teachniche/api/internal/idempotency"
	"github.com/teachniche/api/internal/jobs"
	"github.com/teachniche/api/internal/lesson"
	"github.com/teachniche/api/internal/middleware"
	"github.com/teachniche/api/internal/purchase"
	"github.com/teachniche/api/internal/tracing"
	"github.com/teachniche/api/internal/upload"
	"github.com/teachniche/api/internal/user"
)

const serviceName = "teachniche-api"

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Teach Niche API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		for _, err := range errs {
			slog.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	// Tracing
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Database
	dbConn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", "error", err)
		}
	}()

	// Repositories
	purchaseRepo := purchase.NewPostgresRepository(dbConn, logger)
	webhookRepo := purchase.NewPostgresWebhookRepository(dbConn)
	lessonRepo := lesson.NewPostgresRepository(dbConn)
	userRepo := user.NewPostgresRepository(dbConn)

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	purchaseMetrics := purchase.NewMetrics()
	if err := purchaseMetrics.Register(registry); err != nil {
		logger.Error("failed to register purchase metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Rate limiting: Redis-backed when configured, in-memory otherwise.
	var rateLimitStore middleware.RateLimitStore
	var redisChecker api.HealthChecker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisStore := middleware.NewRedisRateLimitStore(redisClient)
		redisStore.SetMetrics(httpMetrics)
		rateLimitStore = redisStore
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory rate limiting")
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				start := time.Now()
				memStore.Cleanup()
				jobMetrics.IncJobsTotal(jobs.JobTypeRateLimitCleanup, jobs.StatusSuccess)
				jobMetrics.ObserveJobDuration(jobs.JobTypeRateLimitCleanup, time.Since(start).Seconds())
			}
		}()
		rateLimitStore = memStore
	}

	// Purchase reconciliation core
	gateway := purchase.NewStripeGateway(cfg.StripeAPIKey)
	purchaseService := purchase.NewService(purchaseRepo, lessonRepo, gateway, cfg.PlatformFeePercent, purchaseMetrics, logger)

	purchaseHandlers := api.NewPurchaseHandlers(
		lessonRepo,
		purchaseService,
		gateway,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		purchaseMetrics,
	)
	webhookHandlers := api.NewWebhookHandlers(
		cfg.StripeWebhookSecret,
		purchaseService,
		gateway,
		webhookRepo,
		lessonRepo,
		userRepo,
		purchaseMetrics,
	)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(dbConn),
		RedisChecker: redisChecker,
	})

	// Upload signing is optional; enabled only when S3 is configured.
	var uploadHandlers *api.UploadHandlers
	if cfg.S3BucketName != "" {
		uploadService, err := upload.NewService(upload.ServiceConfig{
			BucketName:      cfg.S3BucketName,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			MaxSizeMB:       cfg.S3MaxUploadSizeMB,
		})
		if err != nil {
			logger.Error("failed to initialize upload service", "error", err)
			os.Exit(1)
		}
		uploadHandlers = api.NewUploadHandlers(uploadService)
	}

	// Authentication. During a secret rotation window both the current and
	// previous secrets validate tokens; new tokens always use the current one.
	currentSecret, previousSecret := cfg.GetJWTSecrets()
	var jwtService *auth.JWTService
	if previousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(currentSecret, previousSecret)
	} else {
		jwtService = auth.NewJWTService(currentSecret)
	}
	requireAuth := auth.Middleware(jwtService)

	// Idempotency-Key support for checkout creation. Keys older than 24h
	// are purged hourly.
	idempotencyRepo := idempotency.NewInMemoryRepository()
	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				start := time.Now()
				if _, err := idempotency.CleanupOldKeys(idempotencyRepo, 24*time.Hour); err != nil {
					jobMetrics.IncJobsTotal(jobs.JobTypeIdempotencyCleanup, jobs.StatusFailure)
					jobMetrics.IncJobErrors(jobs.JobTypeIdempotencyCleanup, "store_error")
				} else {
					jobMetrics.IncJobsTotal(jobs.JobTypeIdempotencyCleanup, jobs.StatusSuccess)
				}
				jobMetrics.ObserveJobDuration(jobs.JobTypeIdempotencyCleanup, time.Since(start).Seconds())
			case <-stopCleanup:
				return
			}
		}
	}()
	withIdempotency := middleware.IdempotencyMiddleware(idempotencyRepo, map[string]bool{
		"/lessons/purchase": true,
	})

	purchaseRateLimit := middleware.RateLimiter(rateLimitStore, middleware.DefaultPurchaseLimit(), middleware.UserKeyFunc(), httpMetrics)

	mux := http.NewServeMux()
	mux.Handle("POST /lessons/purchase", requireAuth(withIdempotency(purchaseRateLimit(http.HandlerFunc(purchaseHandlers.CreatePurchase)))))
	mux.Handle("POST /lessons/check-purchase", requireAuth(http.HandlerFunc(purchaseHandlers.CheckPurchase)))
	mux.Handle("POST /lessons/update-purchase", requireAuth(http.HandlerFunc(purchaseHandlers.UpdatePurchase)))
	mux.HandleFunc("POST /webhooks/stripe", webhookHandlers.HandleStripeWebhook)
	if uploadHandlers != nil {
		mux.Handle("POST /uploads/sign", requireAuth(http.HandlerFunc(uploadHandlers.SignUpload)))
	}
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"` + serviceName + `","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Middleware chain, outermost first:
	// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> global rate limit
	var handler http.Handler = mux
	handler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc(), httpMetrics)(handler)
	if cfg.CORSAllowedOrigins != "" {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)
	if cfg.Env == "development" {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(stopCleanup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down tracing provider", "error", err)
	}

	logger.Info("server stopped")
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
