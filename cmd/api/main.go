package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/twofold-auth/twofold/internal/auth"
	"github.com/twofold-auth/twofold/internal/background"
	"github.com/twofold-auth/twofold/internal/cache"
	"github.com/twofold-auth/twofold/internal/config"
	"github.com/twofold-auth/twofold/internal/database"
	"github.com/twofold-auth/twofold/internal/handlers"
	middlewareCustom "github.com/twofold-auth/twofold/internal/middleware"
	"github.com/twofold-auth/twofold/internal/otp"
	"github.com/twofold-auth/twofold/internal/repositories"
	"github.com/twofold-auth/twofold/internal/routes"
	"github.com/twofold-auth/twofold/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize redis
	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize repositories
	enrollmentRepo := repositories.NewEnrollmentRepository(db.Pool)
	backupCodeRepo := repositories.NewBackupCodeRepository(db.Pool)
	deviceTrustRepo := repositories.NewDeviceTrustRepository(db.Pool)
	policyRepo := repositories.NewPolicyRepository(db.Pool)
	userRepo := repositories.NewUserRepository(db.Pool)

	// Initialize redis stores
	sessionStore := cache.NewSetupSessionStore(redisClient)
	otpStore := cache.NewEmailOTPStore(redisClient)
	limiter := cache.NewAttemptLimiter(redisClient, cfg.MFA.MaxAttempts, cfg.MFA.AttemptWindow)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(deviceTrustRepo, logger, cfg.MFA.CleanupInterval)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.MFA.AssertionLifetime)

	// Code generator with the at-rest encryption key
	generator, err := otp.NewGenerator(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		logger.Error("failed to initialize code generator", slog.Any("error", err))
		os.Exit(1)
	}

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	deviceTrustService := services.NewDeviceTrustService(deviceTrustRepo, logger)
	setupService := services.NewSetupService(
		enrollmentRepo, backupCodeRepo, policyRepo, userRepo,
		sessionStore, limiter, generator, emailService, tokenManager, logger,
		services.SetupConfig{
			SessionTTL:      cfg.MFA.SetupSessionTTL,
			EmailOTPTTL:     cfg.MFA.EmailOTPTTL,
			BackupCodeCount: cfg.MFA.BackupCodeCount,
		},
	)
	loginService := services.NewLoginService(
		enrollmentRepo, backupCodeRepo, policyRepo, userRepo,
		otpStore, limiter, generator, emailService, deviceTrustService,
		tokenManager, logger, cfg.MFA.EmailOTPTTL,
	)
	policyService := services.NewPolicyService(policyRepo, enrollmentRepo, userRepo, deviceTrustService, logger)

	// Initialize handlers
	mfaHandler := handlers.NewMFAHandler(setupService, loginService, policyService, deviceTrustService, logger)
	policyHandler := handlers.NewPolicyHandler(policyService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, mfaHandler, policyHandler, tokenManager)

	// Health check with database and redis
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","redis":"down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up","redis":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
