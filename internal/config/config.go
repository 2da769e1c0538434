package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	infisical "github.com/infisical/go-sdk"
)

type Config struct {
	Port           string
	DatabaseURL    string
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string

	// Channel identity and security.
	SelfChain         string
	SelfAddress       string
	RemoteChain       string
	RemoteAddress     string
	ChannelSigningKey string
	ChannelFee        int64

	// Policy windows.
	FreshnessWindow time.Duration
	ResponseTimeout time.Duration
	PollInterval    time.Duration

	AdminToken  string
	ProtocolTag string
}

func Load() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       envOr("REDIS_URL", "redis://redis-master.redis.svc.cluster.local:6379/0"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),

		SelfChain:         envOr("SELF_CHAIN", "c-chain"),
		SelfAddress:       os.Getenv("SELF_ADDRESS"),
		RemoteChain:       os.Getenv("REMOTE_CHAIN"),
		RemoteAddress:     os.Getenv("REMOTE_ADDRESS"),
		ChannelSigningKey: os.Getenv("CHANNEL_SIGNING_KEY"),
		ChannelFee:        envInt64("CHANNEL_FEE", 1),

		FreshnessWindow: envDuration("FRESHNESS_WINDOW", 2*time.Minute),
		ResponseTimeout: envDuration("RESPONSE_TIMEOUT", 5*time.Minute),
		PollInterval:    envDuration("POLL_INTERVAL", 1*time.Minute),

		AdminToken:  os.Getenv("ADMIN_TOKEN"),
		ProtocolTag: envOr("PROTOCOL_TAG", "benqi"),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"CHANNEL_SIGNING_KEY": &cfg.ChannelSigningKey,
		"REDIS_PASSWORD":      &cfg.RedisPassword,
		"ADMIN_TOKEN":         &cfg.AdminToken,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
