// Package server exposes the HTTP API: health, metrics, the FACEIT OAuth
// flow, the match and vote endpoints, the FACEIT webhook, admin controls and
// a websocket feed of match events. Every request carries a correlation id.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter cleanup and the event feed subscription. rdb may be nil.
func NewRouter(ctx context.Context, deps Deps, rdb *redis.Client) http.Handler {
	limiter := newRateLimiter(ctx, loadRateLimiterConfig(), rdb)
	h := NewHandlers(ctx, deps)

	r := mux.NewRouter()
	r.Use(correlate)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.HandleReadyz).Methods(http.MethodGet)

	r.HandleFunc("/auth/faceit/start", h.HandleOAuthStart).Methods(http.MethodGet)
	r.HandleFunc("/auth/faceit/callback", h.HandleOAuthCallback).Methods(http.MethodGet)

	r.HandleFunc("/matches", h.HandleMatchesList).Methods(http.MethodGet)
	r.HandleFunc("/matches/{id}", h.HandleMatchGet).Methods(http.MethodGet)
	r.HandleFunc("/matches/{id}/events", h.HandleMatchEvents).Methods(http.MethodGet)

	// Deliveries carry player votes; mounted only with a shared secret.
	if deps.WebhookSecret != "" {
		r.HandleFunc("/webhooks/faceit", h.HandleWebhook).Methods(http.MethodPost)
	} else {
		slog.Warn("WEBHOOK_SECRET not set; /webhooks/faceit disabled", slog.String("component", "http"))
	}
	r.HandleFunc("/ws/events", h.HandleEventsWS).Methods(http.MethodGet)

	authCfg := loadAuthConfig()
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(adminAuth(authCfg), rateLimit(limiter))
	admin.HandleFunc("/poll", h.HandleAdminPoll).Methods(http.MethodPost)
	// The body names the voter; never mounted without admin credentials.
	if authCfg.enabled {
		admin.HandleFunc("/matches/{id}/votes", h.HandleVoteSubmit).Methods(http.MethodPost)
	} else {
		slog.Warn("admin authentication not configured; vote endpoint disabled", slog.String("component", "http"))
	}

	return cors.New(corsOptions()).Handler(r)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
