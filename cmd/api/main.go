// Package main is the entrypoint for the Basalt API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/cache"
	"github.com/basalt/basalt/internal/config"
	"github.com/basalt/basalt/internal/handler"
	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/middleware"
	"github.com/basalt/basalt/internal/quota"
	"github.com/basalt/basalt/internal/repository"
	"github.com/basalt/basalt/internal/server"
	"github.com/basalt/basalt/internal/service"
	"github.com/basalt/basalt/internal/tier"
	"github.com/basalt/basalt/internal/usage"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Run migrations before the pool opens
	if cfg.RunMigrations {
		if err := repository.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error("failed to run migrations", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Plans
	catalog := tier.DefaultCatalog()
	if cfg.TiersFile != "" {
		catalog, err = tier.LoadCatalog(cfg.TiersFile)
		if err != nil {
			logger.Error("failed to load tier catalog", "path", cfg.TiersFile, "error", err)
			os.Exit(1)
		}
	}

	// Session signing
	secret, ephemeral, err := auth.ResolveSigningSecret(cfg.SecretKey, cfg.IsDevelopment())
	if err != nil {
		logger.Error("failed to resolve signing secret", "error", err)
		os.Exit(1)
	}
	if ephemeral {
		logger.Warn("SECRET_KEY not set; using an ephemeral key, sessions will not survive a restart")
	}
	tokens := auth.NewTokenIssuer(secret, cfg.SessionTTL)

	// Metrics
	metricsRecorder, metricsHandler := initMetrics(cfg)

	// Initialize services
	tracker := quota.NewTracker(repo,
		quota.WithPeriod(cfg.QuotaPeriod),
		quota.WithMode(cfg.ResetMode()),
	)
	accountService := service.NewAccountService(service.AccountConfig{
		Users:   repo,
		Tokens:  tokens,
		Tracker: tracker,
		Catalog: catalog,
		Mailer:  initMailer(cfg, logger),
		BaseURL: cfg.BaseURL,
		Logger:  logger,
		Metrics: metricsRecorder,
	})
	usageBuffer := cache.NewUsageBuffer(cacheClient)
	apiKeyService := service.NewAPIKeyService(repo, usageBuffer, catalog, logger, metricsRecorder)
	notarizationService := service.NewNotarizationService(repo, tracker, service.LocalAnchorer{}, cfg.IPFSGatewayURL, logger, metricsRecorder)

	// Background usage flush
	usageWorker := usage.NewWorker(usageBuffer, repo, logger, cfg.UsageFlushInterval, metricsRecorder)
	go func() {
		if err := usageWorker.Run(ctx); err != nil {
			logger.Error("usage worker stopped", "error", err)
		}
	}()

	// Initialize handlers
	webHandler, err := handler.NewWebHandler(logger, accountService, apiKeyService, notarizationService, cfg.SessionCookieSecure)
	if err != nil {
		logger.Error("failed to parse page templates", "error", err)
		os.Exit(1)
	}

	// Setup router
	r := server.NewRouter(server.RouterDeps{
		Logger:  logger,
		Metrics: metricsRecorder,
		Security: middleware.SecurityConfig{
			IsDevelopment:      cfg.IsDevelopment(),
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		},
		CORS:          corsConfig(cfg),
		MaxUploadSize: cfg.MaxUploadSize,
		RateLimit: middleware.RateLimitConfig{
			Logger:      logger,
			Limiter:     cacheClient,
			Catalog:     catalog,
			APIEnabled:  cfg.RateLimitAPIEnabled,
			AuthEnabled: cfg.RateLimitAuthEnabled,
			AuthRPS:     cfg.RateLimitAuthRPS,
			AuthBurst:   cfg.RateLimitAuthBurst,
		},
		Sessions:    accountService,
		Keys:        apiKeyService,
		Index:       handler.New(),
		Health:      handler.NewHealthHandler(repo, cacheClient),
		MetricsPage: metricsHandler,
		Web:         webHandler,
		APIKeys:     handler.NewAPIKeyHandler(logger, apiKeyService),
		Notarize:    handler.NewNotarizeHandler(logger, notarizationService, accountService),
	})

	// Create and run server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	// Components stop in reverse order: pending mail first, then the final usage flush.
	srv.OnShutdown("usage-worker", usageWorker.Shutdown)
	srv.OnShutdown("mailer", accountService.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"metrics_backend", cfg.MetricsBackend,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initMetrics picks the recorder and the /metrics handler for the configured backend.
func initMetrics(cfg *config.Config) (metrics.Recorder, *handler.MetricsHandler) {
	if strings.EqualFold(cfg.MetricsBackend, "memory") {
		rec := metrics.NewInMemory()
		return rec, handler.NewMetricsHandler(nil, rec)
	}
	prom := metrics.NewPrometheus()
	return prom, handler.NewMetricsHandler(prom.Handler(), nil)
}

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	c.AllowedOrigins = cfg.CORSAllowedOrigins
	return c
}

// initMailer sends through SendGrid when a key is configured and logs
// messages otherwise.
func initMailer(cfg *config.Config, logger *slog.Logger) service.Mailer {
	if cfg.SendGridAPIKey == "" {
		logger.Warn("SENDGRID_API_KEY not set; verification emails will only be logged")
		return service.NewLogMailer(logger)
	}
	return service.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom, cfg.SendGridHost)
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
