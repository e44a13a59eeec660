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
	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/background"
	"github.com/meridian-erp/gatekeeper/internal/config"
	"github.com/meridian-erp/gatekeeper/internal/database"
	"github.com/meridian-erp/gatekeeper/internal/handlers"
	middlewareCustom "github.com/meridian-erp/gatekeeper/internal/middleware"
	"github.com/meridian-erp/gatekeeper/internal/repositories"
	"github.com/meridian-erp/gatekeeper/internal/routes"
	"github.com/meridian-erp/gatekeeper/internal/services"
	pkghttp "github.com/meridian-erp/gatekeeper/pkg/http"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := database.RunMigrations(&cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	mfaRepo := repositories.NewMFACredentialRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	// Security primitives
	auditLogger := pkglogger.NewAuditLogger(logger)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.MFAChallengeExpiry,
	)

	totpManager, err := auth.NewTOTPManager([]byte(cfg.MFA.EncryptionKey), cfg.MFA.Issuer, cfg.MFA.SkewSeconds)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    100,
		RandomDelayMs:  100,
		DelayOnSuccess: true,
	})

	trustPolicy := auth.NewCIDRTrustPolicy(cfg.Server.TrustedNetworks)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Reset.BaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	credentialService := services.NewCredentialService(userRepo, services.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Window:      cfg.Lockout.Window,
		Duration:    cfg.Lockout.Duration,
	}, logger, auditLogger)

	sessionService := services.NewSessionService(sessionRepo, services.SessionPolicy{
		AbsoluteTimeout:   cfg.Session.AbsoluteTimeout,
		IdleTimeout:       cfg.Session.IdleTimeout,
		RememberMeTimeout: cfg.Session.RememberMeTimeout,
		MaxConcurrent:     cfg.Session.MaxConcurrent,
	}, logger, auditLogger)

	tokenService := services.NewTokenService(tokenManager, sessionRepo, logger, auditLogger)

	mfaService := services.NewMFAService(mfaRepo, userRepo, totpManager, cfg.MFA.BackupCodeCount, logger, auditLogger)

	resetService := services.NewPasswordResetService(
		resetRepo, userRepo, sessionService, emailService,
		cfg.Reset.TokenTTL, logger, auditLogger,
	)

	authService := services.NewAuthService(
		userRepo, credentialService, mfaService, sessionService, tokenService,
		tokenManager, trustPolicy, timingDelay, logger, auditLogger,
	)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, userRepo)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	resetHandler := handlers.NewPasswordResetHandler(resetService, ipConfig)

	// Background reaper for expired sessions and reset tokens
	reaper := background.NewReaper(map[string]background.Sweeper{
		"sessions":     sessionService,
		"reset_tokens": resetService,
	}, logger, cfg.Session.ReaperInterval)

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	// RemoteAddr must stay the raw socket peer: client IP extraction applies
	// its own trusted-proxy check, and the MFA trust gate depends on it.
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, resetHandler, tokenManager, sessionService)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	go reaper.Start(reaperCtx)

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

	reaperCancel()
	reaper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
