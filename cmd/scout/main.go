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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/web3-frozen/yield-hub/internal/channel"
	"github.com/web3-frozen/yield-hub/internal/config"
	"github.com/web3-frozen/yield-hub/internal/handler"
	"github.com/web3-frozen/yield-hub/internal/hub"
	"github.com/web3-frozen/yield-hub/internal/lending"
	"github.com/web3-frozen/yield-hub/internal/middleware"
	"github.com/web3-frozen/yield-hub/internal/scout"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.SelfAddress == "" {
		logger.Error("SELF_ADDRESS is required")
		os.Exit(1)
	}
	if cfg.RemoteChain == "" || cfg.RemoteAddress == "" {
		logger.Error("REMOTE_CHAIN and REMOTE_ADDRESS are required")
		os.Exit(1)
	}
	if cfg.ChannelSigningKey == "" {
		logger.Error("CHANNEL_SIGNING_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self := channel.Endpoint{Chain: cfg.SelfChain, Address: cfg.SelfAddress}

	var ch *channel.RedisChannel
	var err error
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

	var source hub.LocalYieldSource
	switch cfg.ProtocolTag {
	case "aave":
		source = lending.NewAave(logger)
	default:
		source = lending.NewBenqi()
	}

	s := scout.New(source, ch, cfg.ChannelFee, cfg.ProtocolTag, logger)
	s.SetTrustedRequester(channel.Endpoint{Chain: cfg.RemoteChain, Address: cfg.RemoteAddress})
	logger.Info("scout trusting hub", "chain", cfg.RemoteChain, "address", cfg.RemoteAddress,
		"protocol", cfg.ProtocolTag)

	go ch.Run(ctx, func(src channel.Endpoint, payload []byte) {
		if err := s.OnMessage(src, payload); err != nil {
			logger.Warn("request dropped", "source", src.String(), "error", err)
		}
	})

	// Minimal HTTP surface for probes and metrics.
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("scout starting", "port", cfg.Port)
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
