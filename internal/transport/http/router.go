package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vote-relay/internal/application/notification"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/transport/http/handler"
	appmiddleware "github.com/vote-relay/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds background
// work owned by the router such as rate-limiter cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.Metrics(deps.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		// Without a verification key the per-user endpoints cannot be served.
		authMw = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"authentication unavailable"}`, http.StatusServiceUnavailable)
			})
		}
	}

	// 2 upgrades/second, burst of 10, per client IP.
	socketRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(2), 10)

	chains := make([]domain.Chain, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains = append(chains, c.Chain)
	}

	notifSvc := notification.NewService(deps.NotificationRepo)

	healthH := handler.NewHealthHandler(chains, deps.Listener, deps.Hub, deps.RetryQueue)
	notifH := handler.NewNotificationHandler(notifSvc)

	if deps.Hub != nil {
		r.With(socketRL.Limit).Get("/ws", deps.Hub.ServeHTTP)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.Get("/status", healthH.Status)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/notifications", notifH.ListUnread)
			r.Put("/notifications/{id}", notifH.MarkAsRead)
		})
	})

	return r
}
