package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/callgate/internal/config"
	"github.com/tendant/callgate/internal/httputil"
)

// Rate limiter groups.
const (
	LimitWidget    = "widget"
	LimitCallback  = "callback"
	LimitWebhook   = "webhook"
	LimitDashboard = "dashboard"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.WarnContext(r.Context(), "rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimitWidget:    noOp,
			LimitCallback:  noOp,
			LimitWebhook:   noOp,
			LimitDashboard: noOp,
		}
	}

	perMinute := func(n int) func(http.Handler) http.Handler {
		return RateLimit(RateLimitConfig{Requests: n, Window: time.Minute, Logger: logger})
	}
	return map[string]func(http.Handler) http.Handler{
		LimitWidget:    perMinute(cfg.WidgetRequestsPerMinute),
		LimitCallback:  perMinute(cfg.CallbackRequestsPerMinute),
		LimitWebhook:   perMinute(cfg.WebhookRequestsPerMinute),
		LimitDashboard: perMinute(cfg.DashboardRequestsPerMinute),
	}
}
