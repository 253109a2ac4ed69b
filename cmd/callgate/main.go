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

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/callgate/internal/admission"
	"github.com/tendant/callgate/internal/auth"
	"github.com/tendant/callgate/internal/billing"
	"github.com/tendant/callgate/internal/capability"
	"github.com/tendant/callgate/internal/config"
	"github.com/tendant/callgate/internal/events"
	httpserver "github.com/tendant/callgate/internal/http"
	"github.com/tendant/callgate/internal/plan"
	"github.com/tendant/callgate/internal/provisioning"
	"github.com/tendant/callgate/internal/repository"
	"github.com/tendant/callgate/internal/secrets"
	"github.com/tendant/callgate/internal/telephony"
	"github.com/tendant/callgate/internal/verification"
	"github.com/tendant/callgate/internal/widget"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := repository.NewDB(repository.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories
	tenantsRepo := repository.NewTenantsRepository(db)
	numbersRepo := repository.NewPhoneNumbersRepository(db)
	subscriptionsRepo := repository.NewSubscriptionsRepository(db)
	callsRepo := repository.NewCallAttemptsRepository(db)
	agentsRepo := repository.NewAgentsRepository(db)
	formsRepo := repository.NewWidgetFormsRepository(db)
	leadsRepo := repository.NewLeadsRepository(db)

	sealer, err := secrets.NewSealer(cfg.SecretsEncryptionKey)
	if err != nil {
		logger.Error("invalid secrets encryption key", "error", err)
		os.Exit(1)
	}

	provider := telephony.NewRESTClient(logger, telephony.RESTConfig{
		BaseURL:         cfg.TelephonyBaseURL,
		AccountID:       cfg.TelephonyAccountID,
		APIKey:          cfg.TelephonyAPIKey,
		MaxReadAttempts: uint(cfg.TelephonyMaxReadAttempts),
	}, &http.Client{Timeout: cfg.TelephonyTimeout})

	// Events
	var publisher events.Publisher = events.Nop{}
	var nc *nats.Conn
	if cfg.HasNATS() {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("callgate"))
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		publisher = events.NewNATSPublisher(nc, logger)
		logger.Info("event publishing enabled")
	}

	// Plans
	catalog, err := plan.LoadCatalog(cfg.PlanCatalogFile)
	if err != nil {
		logger.Error("failed to load plan catalog", "error", err)
		os.Exit(1)
	}
	var cache plan.Cache
	if cfg.HasRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		cache = plan.NewRedisCache(rdb, cfg.PlanCacheTTL)
		logger.Info("plan cache backed by redis")
	} else {
		cache = plan.NewMemoryCache(cfg.PlanCacheTTL)
	}
	plans := plan.NewService(logger, cache, subscriptionsRepo, catalog)

	// Provisioning and verification
	tokens := capability.NewIssuer([]byte(cfg.WidgetTokenSecret), cfg.CapabilityIssuer)
	callbackURLs := capability.NewCallbackURLs(cfg.PublicBaseURL, tokens, cfg.CallbackTokenTTL)

	registry := provisioning.NewRegistry(logger, tenantsRepo, provider, sealer)
	verifier := verification.NewService(logger, numbersRepo, provider, registry, verification.HOTPCodes{}, callbackURLs, publisher)
	numberService := provisioning.NewNumberService(logger, numbersRepo, provider, verifier, provisioning.VoiceRuntimeURLs(cfg.VoiceRuntimeURL))

	// Admission
	gate := admission.NewGate(logger, numbersRepo, callsRepo, plans, cfg.MaxCallDuration)
	dialer := admission.NewDialer(logger, gate, provider, registry, callsRepo, callbackURLs, cfg.VoiceRuntimeURL, publisher)
	tracker := admission.NewTracker(logger, callsRepo, subscriptionsRepo, plans)

	widgetService := widget.NewService(logger, formsRepo, agentsRepo, numbersRepo, leadsRepo, dialer, tokens, cfg.WidgetTokenTTL)
	processor := billing.NewProcessor(logger, cfg.BillingWebhookSecret, subscriptionsRepo, tenantsRepo, registry, plans, catalog, publisher)

	if nc != nil {
		subscriber := events.NewCallEndedSubscriber(nc, tracker, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("call ended subscriber stopped", "error", err)
			}
		}()
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:                logger,
		TokenValidator:        auth.NewTokenValidator([]byte(cfg.JWTSecret), cfg.JWTIssuer),
		Numbers:               numberService,
		Verification:          verifier,
		Credentials:           registry,
		Dialer:                dialer,
		Plans:                 plans,
		Widget:                widgetService,
		Billing:               processor,
		CallbackTokens:        tokens,
		VerificationCallbacks: verifier,
		CallLookup:            callsRepo,
		CallTracker:           tracker,
		DashboardOrigins:      cfg.DashboardOrigins,
		MaxBodyBytes:          cfg.MaxBodyBytes,
		RateLimitConfig:       cfg.RateLimit,
		SecurityHeaders:       cfg.SecurityHeaders,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
