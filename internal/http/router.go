package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/callgate/internal/config"
	"github.com/tendant/callgate/internal/http/features/billing"
	"github.com/tendant/callgate/internal/http/features/callbacks"
	"github.com/tendant/callgate/internal/http/features/calls"
	"github.com/tendant/callgate/internal/http/features/numbers"
	"github.com/tendant/callgate/internal/http/features/plans"
	"github.com/tendant/callgate/internal/http/features/widget"
	"github.com/tendant/callgate/internal/http/middleware"
	"github.com/tendant/callgate/internal/httputil"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger         *slog.Logger
	TokenValidator middleware.AccessTokenValidator

	Numbers      numbers.NumberService
	Verification numbers.VerificationService
	Credentials  numbers.CredentialResolver
	Dialer       calls.CallPlacer
	Plans        plans.PlanReader
	Widget       widget.Service
	Billing      billing.WebhookProcessor

	CallbackTokens        callbacks.TokenVerifier
	VerificationCallbacks callbacks.VerificationCallbacks
	CallLookup            callbacks.CallLookup
	CallTracker           callbacks.CallCompleter

	DashboardOrigins []string
	MaxBodyBytes     int64
	RateLimitConfig  config.RateLimitConfig
	SecurityHeaders  config.SecurityHeadersConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxBodyBytes))
	r.Use(dashboardCORS(cfg.DashboardOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	numbersHandler := numbers.NewHandler(cfg.Logger, cfg.Numbers, cfg.Verification, cfg.Credentials)
	callsHandler := calls.NewHandler(cfg.Logger, cfg.Dialer)
	plansHandler := plans.NewHandler(cfg.Logger, cfg.Plans)
	widgetHandler := widget.NewHandler(cfg.Logger, cfg.Widget)

	// Dashboard API
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenValidator))
		r.Use(rateLimiters[middleware.LimitDashboard])
		numbersHandler.RegisterRoutes(r)
		callsHandler.RegisterRoutes(r)
		plansHandler.RegisterRoutes(r)
		widgetHandler.RegisterDashboardRoutes(r)
	})

	// Embedded widget ingress
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitWidget])
		widgetHandler.RegisterRoutes(r)
	})

	// Provider callbacks
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitCallback])
		callbacks.NewHandler(cfg.Logger, cfg.CallbackTokens, cfg.VerificationCallbacks, cfg.CallLookup, cfg.CallTracker).RegisterRoutes(r)
	})

	// Billing webhooks
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitWebhook])
		billing.NewHandler(cfg.Logger, cfg.Billing).RegisterRoutes(r)
	})

	return r
}

// dashboardCORS applies the dashboard CORS policy to everything except widget
// submissions, which answer CORS per form.
func dashboardCORS(origins []string) func(http.Handler) http.Handler {
	policy := cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return func(next http.Handler) http.Handler {
		withPolicy := policy(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWidgetSubmission(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			withPolicy.ServeHTTP(w, r)
		})
	}
}

func isWidgetSubmission(path string) bool {
	return strings.HasPrefix(path, "/v1/widget/") && strings.HasSuffix(path, "/submit")
}
