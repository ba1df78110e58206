package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/mandatebot/internal/blob/s3"
	"github.com/alanyoungcy/mandatebot/internal/cache/redis"
	"github.com/alanyoungcy/mandatebot/internal/config"
	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/gateway"
	"github.com/alanyoungcy/mandatebot/internal/notify"
	"github.com/alanyoungcy/mandatebot/internal/platform/chain"
	"github.com/alanyoungcy/mandatebot/internal/platform/x402"
	"github.com/alanyoungcy/mandatebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes build on. Optional
// members are nil interfaces when their backend is disabled.
type Dependencies struct {
	Chain *chain.Client

	// Stores
	AuditStore     domain.AuditStore
	UsageStore     domain.UsageStore
	ChallengeStore domain.ChallengeStore
	ProofCache     domain.ProofCache

	// Caches
	RateLimiter domain.RateLimiter
	EventBus    domain.EventBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobLister domain.BlobLister

	// Notifications
	Notifier *notify.Notifier

	// Backends reported by /api/health, keyed by name.
	HealthChecks map[string]domain.HealthChecker
}

// Wire connects every enabled backend and returns the dependencies together
// with a cleanup function releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		ChallengeStore: gateway.NewMemoryChallengeStore(),
		UsageStore:     gateway.NewMemoryUsageStore(),
		ProofCache:     x402.NewMemoryProofCache(),
		HealthChecks:   make(map[string]domain.HealthChecker),
	}

	// --- Chain RPC (dialled lazily on first call) ---
	deps.Chain = chain.NewClient(cfg.Chain.RPCURL)
	closers = append(closers, deps.Chain.Close)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.HealthChecks["postgres"] = pgClient

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		if strings.EqualFold(cfg.Gateway.UsageStore, "postgres") {
			deps.UsageStore = postgres.NewUsageStore(pgClient.Pool())
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthChecks["redis"] = redisClient

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		if strings.EqualFold(cfg.Gateway.ChallengeStore, "redis") {
			deps.ChallengeStore = redis.NewChallengeStore(redisClient)
		}
		if strings.EqualFold(cfg.X402.ProofCache, "redis") {
			deps.ProofCache = redis.NewProofCache(redisClient)
		}
	}

	// --- S3 usage export ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, exports will retry",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.HealthChecks["s3"] = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobLister = s3blob.NewLister(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
