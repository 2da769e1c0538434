package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/web3-frozen/yield-hub/internal/channel"
	"github.com/web3-frozen/yield-hub/internal/config"
	"github.com/web3-frozen/yield-hub/internal/handler"
	"github.com/web3-frozen/yield-hub/internal/hub"
	"github.com/web3-frozen/yield-hub/internal/lending"
	"github.com/web3-frozen/yield-hub/internal/metrics"
	"github.com/web3-frozen/yield-hub/internal/middleware"
	"github.com/web3-frozen/yield-hub/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.SelfAddress == "" {
		logger.Error("SELF_ADDRESS is required")
		os.Exit(1)
	}
	if cfg.ChannelSigningKey == "" {
		logger.Error("CHANNEL_SIGNING_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	self := channel.Endpoint{Chain: cfg.SelfChain, Address: cfg.SelfAddress}

	// Redis channel (retry up to 30s for ExternalSecret to sync)
	var ch *channel.RedisChannel
	for i := 0; i < 6; i++ {
		ch, err = channel.NewRedis(cfg.RedisURL, cfg.RedisPassword, self,
			[]byte(cfg.ChannelSigningKey), cfg.ChannelFee, logger)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer ch.Close()
	logger.Info("redis connected for yield channel", "endpoint", self.String())

	source := lending.NewBenqi()

	h := hub.New(hub.Config{
		Chain:           cfg.SelfChain,
		FreshnessWindow: cfg.FreshnessWindow,
		ResponseTimeout: cfg.ResponseTimeout,
		RequestFee:      cfg.ChannelFee,
	}, source, ch, db, logger)

	if cfg.RemoteChain != "" && cfg.RemoteAddress != "" {
		h.SetRemoteEndpoint(channel.Endpoint{Chain: cfg.RemoteChain, Address: cfg.RemoteAddress})
		logger.Info("remote scout configured", "chain", cfg.RemoteChain, "address", cfg.RemoteAddress)
	}

	// Re-seed the cache from the last persisted readings.
	snaps, err := db.LoadTokens(ctx)
	if err != nil {
		logger.Error("failed to load tokens from database", "error", err)
		os.Exit(1)
	}
	for _, snap := range snaps {
		h.Restore(snap)
	}
	logger.Info("token cache restored", "tokens", len(snaps))

	// Background goroutines
	go ch.Run(ctx, func(src channel.Endpoint, payload []byte) {
		if err := h.OnMessage(src, payload); err != nil {
			logger.Warn("inbound message rejected", "source", src.String(), "error", err)
		}
	})
	go refreshLoop(ctx, h, cfg.PollInterval, logger)
	go auditCleanupLoop(ctx, db, logger)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/yields", handler.ListYields(h))
		r.Get("/yields/{token}", handler.GetYield(h))
		r.Get("/yields/{token}/risk", handler.GetRisk(h))
		r.Post("/yields/{token}/refresh", handler.RequestRefresh(h))
		r.Get("/requests/{token}", handler.RequestHistory(h, db))

		r.Route("/admin", func(r chi.Router) {
			r.Use(handler.RequireAdmin(cfg.AdminToken))
			r.Post("/tokens", handler.RegisterToken(h))
			r.Delete("/tokens/{token}", handler.DeregisterToken(h))
			r.Put("/endpoint", handler.SetEndpoint(h))
			r.Put("/windows", handler.SetWindows(h))
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("hub starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// refreshLoop keeps local readings warm and exports per-token gauges.
func refreshLoop(ctx context.Context, h *hub.Hub, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, token := range h.Tokens() {
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := h.RefreshLocal(refreshCtx, token)
			cancel()
			if err != nil && !errors.Is(err, hub.ErrStaleSourceData) {
				logger.Warn("local refresh failed", "token", token, "error", err)
			}

			snap, err := h.Snapshot(token)
			if err != nil {
				continue
			}
			metrics.LocalAPYBps.WithLabelValues(token).Set(float64(snap.LocalAPYBps))
			if !snap.LocalUpdatedAt.IsZero() {
				metrics.ReadingAge.WithLabelValues(token, "local").
					Set(time.Since(snap.LocalUpdatedAt).Seconds())
			}
			if snap.RemoteActive {
				metrics.RemoteAPYBps.WithLabelValues(token).Set(float64(snap.RemoteAPYBps))
				if !snap.RemoteUpdatedAt.IsZero() {
					metrics.ReadingAge.WithLabelValues(token, "remote").
						Set(time.Since(snap.RemoteUpdatedAt).Seconds())
				}
			}
		}
	}
}

// auditCleanupLoop trims the message audit table once a day.
func auditCleanupLoop(ctx context.Context, db *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := db.CleanupAudit(ctx, 30*24*time.Hour)
			if err != nil {
				logger.Warn("audit cleanup failed", "error", err)
				continue
			}
			logger.Info("audit cleanup complete", "deleted", deleted)
		}
	}
}
