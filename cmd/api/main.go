package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/totpguard/internal/auth"
	"github.com/BradenHooton/totpguard/internal/background"
	"github.com/BradenHooton/totpguard/internal/config"
	"github.com/BradenHooton/totpguard/internal/database"
	"github.com/BradenHooton/totpguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/totpguard/internal/middleware"
	"github.com/BradenHooton/totpguard/internal/observability"
	"github.com/BradenHooton/totpguard/internal/repositories"
	"github.com/BradenHooton/totpguard/internal/routes"
	"github.com/BradenHooton/totpguard/internal/services"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
	pkglogger "github.com/BradenHooton/totpguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	// Audit sink failures go to the process error stream
	errorLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Bool("forgot_2fa", cfg.TOTP.EnableForgot2FA),
		slog.String("audit_sink", cfg.TOTP.LoggingClass),
		slog.String("rate_limit_backend", cfg.TOTP.RateLimitBackend))

	// Initialize database
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = database.Migrate(migrateCtx, cfg.Database.DSN(), logger)
	migrateCancel()
	if err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.NewConnection(connectCtx, &cfg.Database, logger)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	metrics := observability.NewMetrics(nil)

	// Audit log
	sink, err := services.NewAuditSink(cfg.TOTP.LoggingClass, auditRepo, logger)
	if err != nil {
		logger.Error("failed to initialize audit sink", slog.Any("error", err))
		os.Exit(1)
	}
	auditLogger := services.NewAuditLogger(sink, errorLogger, cfg.Server.IsDevelopment())
	auditLogger.OnLogged(metrics.AuditLogged)

	// Token managers
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.PendingTokenExpiry)
	csrfManager, err := auth.NewCSRFTokenManager(cfg.Auth.JWTSecret, cfg.Auth.CSRFTokenExpiry)
	if err != nil {
		logger.Error("failed to initialize CSRF token manager", slog.Any("error", err))
		os.Exit(1)
	}
	linkSigner, err := auth.NewLinkSigner(cfg.TOTP.LinkSigningKey, cfg.Server.PublicBaseURL+"/totp/forgot/verify", cfg.TOTP.LinkLifetime)
	if err != nil {
		logger.Error("failed to initialize link signer", slog.Any("error", err))
		os.Exit(1)
	}
	totpManager, err := auth.NewTOTPManager(cfg.TOTP.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Recovery email rate limiter
	policy := services.RateLimitPolicy{Limit: cfg.TOTP.RateLimitRequests, Window: cfg.TOTP.RateLimitWindow}
	var (
		limiter        services.SlidingWindowLimiter
		cleanupManager *background.CleanupManager
	)
	switch cfg.TOTP.RateLimitBackend {
	case config.RateLimitBackendRedis:
		client, err := newRedisClient(&cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer client.Close()
		limiter = services.NewRedisSlidingWindowLimiter(client, policy, "totpguard:forgot:")
	default:
		memLimiter := services.NewMemorySlidingWindowLimiter(policy)
		limiter = memLimiter
		cleanupManager = background.NewCleanupManager(memLimiter, metrics, logger, cfg.TOTP.PruneInterval)
	}

	// Recovery email transport, only needed when the forgot function is on
	var mailer services.Mailer
	if cfg.TOTP.EnableForgot2FA {
		mailer, err = newMailer(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize mailer", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize services
	totpService := services.NewTOTPService(userRepo, totpManager, auditLogger, logger).WithMetrics(metrics)
	forgotService, err := services.NewForgotService(cfg.TOTP.EnableForgot2FA, services.ForgotDeps{
		Users:    userRepo,
		Signer:   linkSigner,
		CSRF:     csrfManager,
		Limiter:  limiter,
		Mailer:   mailer,
		Audit:    auditLogger,
		Requests: pkglogger.NewTOTPAuditLogger(logger),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize forgot 2FA service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	cookies := auth.CookieConfig{
		Domain:   cfg.Server.CookieDomain,
		Secure:   cfg.Server.CookieSecure,
		SameSite: cfg.Server.CookieSameSite,
	}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	totpHandler := handlers.NewTOTPHandler(totpService, csrfManager, userRepo, handlers.TOTPHandlerConfig{
		HomePath:        cfg.TOTP.HomePath,
		Cookies:         cookies,
		PendingCodesTTL: cfg.Auth.CSRFTokenExpiry,
	}, logger)
	forgotHandler := handlers.NewForgotHandler(forgotService, csrfManager, handlers.ForgotHandlerConfig{
		HomePath:     cfg.TOTP.HomePath,
		LogoutPath:   cfg.Auth.LogoutPath,
		Cookies:      cookies,
		IPConfig:     ipConfig,
		FailureDelay: auth.NewFailureDelay(cfg.TOTP.FailureDelay, cfg.TOTP.FailureDelay/2),
	}, logger)

	// Setup router. Client addresses come from ExtractClientIP with the trusted
	// proxy list, so chi's RealIP is not installed.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middlewareCustom.Metrics(metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		TOTP:         totpHandler,
		Forgot:       forgotHandler,
		TokenManager: tokenManager,
		CSRF:         csrfManager,
		Users:        userRepo,
		HomePath:     cfg.TOTP.HomePath,
		VerifyRateLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.TOTP.VerifyRequestsPerMinute,
			IPConfig:          ipConfig,
		},
		Logger: logger,
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
			pkghttp.WriteServiceUnavailable(w, "Database unavailable")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})
	router.Handle("/metrics", metrics.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	if cleanupManager != nil {
		go cleanupManager.Start(cleanupCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if cleanupManager != nil {
		cleanupManager.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newRedisClient connects to the shared limiter store and fails fast when it is down
func newRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return client, nil
}

// newMailer builds the configured recovery email transport
func newMailer(cfg *config.Config, logger *slog.Logger) (services.Mailer, error) {
	if cfg.Email.Provider == config.MailProviderSMTP {
		smtp, err := services.NewSMTPMailer(services.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.TOTP.FromEmail,
			TLS:      cfg.Server.Env == "production",
		}, logger)
		if err != nil {
			return nil, err
		}
		return smtp, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ses, err := services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.TOTP.FromEmail, logger)
	if err != nil {
		return nil, err
	}
	return ses, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
