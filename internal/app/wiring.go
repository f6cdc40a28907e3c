package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/partnerportal/portal/internal/events"
	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/identity"
	"github.com/partnerportal/portal/internal/platform/cache"
	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/shared"
	"github.com/partnerportal/portal/internal/tuplesync"
)

// DBOptions returns pool settings for the named binary.
func (c *Config) DBOptions(app string) db.Options {
	return db.Options{MaxConns: c.PGMaxConns, ApplicationName: app}
}

// RedisOptions returns the Redis connection settings.
func (c *Config) RedisOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// NewFGAClient connects to OpenFGA, or returns an in-process store when no
// API URL is configured in a local environment.
func NewFGAClient(cfg *Config, logger *slog.Logger) (fga.Client, error) {
	if cfg.FGAAPIURL == "" {
		if !cfg.IsLocal() {
			return nil, fmt.Errorf("app: FGA_API_URL is required when APP_ENV=%s", cfg.AppEnv)
		}
		logger.Warn("FGA_API_URL not set, using in-memory authorization store")
		return fga.NewMemory(nil), nil
	}
	return fga.NewOpenFGA(fga.Config{
		APIURL:       cfg.FGAAPIURL,
		StoreID:      cfg.FGAStoreID,
		ModelID:      cfg.FGAModelID,
		ClientID:     cfg.FGAClientID,
		ClientSecret: cfg.FGAClientSecret,
		TokenIssuer:  cfg.FGATokenIssuer,
		Audience:     cfg.FGAAudience,
	}, logger)
}

// NewPublisher returns a Kafka publisher when brokers are configured.
func NewPublisher(cfg *Config, logger *slog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NoopPublisher{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
}

// NewDirectory returns the Auth0 management client, or a no-op directory
// when management credentials are absent.
func NewDirectory(ctx context.Context, cfg *Config, logger *slog.Logger) (identity.Directory, error) {
	if !cfg.DirectoryEnabled() {
		return identity.NoopDirectory{}, nil
	}
	return identity.NewAuth0Directory(ctx, identity.Auth0Config{
		Domain:       cfg.Auth0Domain,
		ClientID:     cfg.Auth0MgmtClientID,
		ClientSecret: cfg.Auth0MgmtClientSecret,
		Connection:   cfg.Auth0Connection,
	}, logger)
}

// NewAuthenticator builds the bearer-token middleware. Without an Auth0
// domain only "dev.<subject>" tokens are accepted, and only in a local
// environment.
func NewAuthenticator(ctx context.Context, cfg *Config, client *redis.Client, logger *slog.Logger) (identity.Authenticator, error) {
	if cfg.Auth0Domain == "" {
		if !cfg.IsLocal() {
			return identity.Authenticator{}, fmt.Errorf("app: AUTH0_DOMAIN is required when APP_ENV=%s", cfg.AppEnv)
		}
		logger.Warn("AUTH0_DOMAIN not set, accepting development tokens")
		return identity.Authenticator{Verifier: identity.DevVerifier{}, Logger: logger}, nil
	}
	verifier, err := identity.NewOIDCVerifier(ctx, cfg.Auth0Issuer(), cfg.Auth0Audience)
	if err != nil {
		return identity.Authenticator{}, err
	}
	return identity.Authenticator{
		Verifier: verifier,
		Profiles: verifier,
		Cache:    identity.NewProfileCache(client, cfg.ProfileCacheTTL),
		Logger:   logger,
	}, nil
}

// NewSynchronizer assembles the tuple synchronizer over store.
func NewSynchronizer(cfg *Config, store tuplesync.Store, client fga.Client, redisClient *redis.Client, publisher events.Publisher, registerer prometheus.Registerer, logger *slog.Logger) *tuplesync.Synchronizer {
	opts := tuplesync.Options{
		Publisher:         publisher,
		Metrics:           tuplesync.NewMetrics(registerer),
		Logger:            logger,
		MaxOutboxAttempts: cfg.SyncOutboxAttempts,
		RetainArchived:    cfg.SoftDeletePolicy == "retain",
	}
	if redisClient != nil {
		opts.Locker = shared.NewRedisLocker(redisClient, cfg.SyncLockTTL)
	}
	return tuplesync.New(store, client, opts)
}
