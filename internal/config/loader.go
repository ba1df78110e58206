package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MANDATEBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MANDATEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Agent ──
	setStr(&cfg.Agent.PrivateKey, "MANDATEBOT_AGENT_PRIVATE_KEY")
	setStr(&cfg.Agent.EncryptedKeyPath, "MANDATEBOT_AGENT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Agent.KeyPassword, "MANDATEBOT_AGENT_KEY_PASSWORD")
	setInt64(&cfg.Agent.AgentID, "MANDATEBOT_AGENT_ID")
	setStr(&cfg.Agent.AccountAddress, "MANDATEBOT_AGENT_ACCOUNT_ADDRESS")
	setStringSlice(&cfg.Agent.MarketIDs, "MANDATEBOT_AGENT_MARKET_IDS")
	setBool(&cfg.Agent.IncludePremium, "MANDATEBOT_AGENT_INCLUDE_PREMIUM")
	setInt(&cfg.Agent.RebalanceIntervalSeconds, "MANDATEBOT_AGENT_REBALANCE_INTERVAL_SECONDS")
	setStr(&cfg.Agent.MaxPositionSize, "MANDATEBOT_AGENT_MAX_POSITION_SIZE")
	setInt(&cfg.Agent.ErrorBackoffSeconds, "MANDATEBOT_AGENT_ERROR_BACKOFF_SECONDS")
	setBool(&cfg.Agent.DryRun, "MANDATEBOT_AGENT_DRY_RUN")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MANDATEBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "MANDATEBOT_CHAIN_ID")
	setStr(&cfg.Chain.MandateRegistry, "MANDATEBOT_CHAIN_MANDATE_REGISTRY")
	setStr(&cfg.Chain.MarketRegistry, "MANDATEBOT_CHAIN_MARKET_REGISTRY")
	setDuration(&cfg.Chain.CallTimeout, "MANDATEBOT_CHAIN_CALL_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptTimeout, "MANDATEBOT_CHAIN_RECEIPT_TIMEOUT")
	setUint64(&cfg.Chain.GasLimit, "MANDATEBOT_CHAIN_GAS_LIMIT")

	// ── TxBuilder ──
	setStr(&cfg.TxBuilder.Variant, "MANDATEBOT_TXBUILDER_VARIANT")
	setStr(&cfg.TxBuilder.MarketContract, "MANDATEBOT_TXBUILDER_MARKET_CONTRACT")
	setStr(&cfg.TxBuilder.PolicyContract, "MANDATEBOT_TXBUILDER_POLICY_CONTRACT")

	// ── X402 ──
	setStr(&cfg.X402.BaseURL, "MANDATEBOT_X402_BASE_URL")
	setStr(&cfg.X402.PaymentMethod, "MANDATEBOT_X402_PAYMENT_METHOD")
	setStr(&cfg.X402.MockBalance, "MANDATEBOT_X402_MOCK_BALANCE")
	setDuration(&cfg.X402.ProofValidity, "MANDATEBOT_X402_PROOF_VALIDITY")
	setDuration(&cfg.X402.Timeout, "MANDATEBOT_X402_TIMEOUT")
	setStr(&cfg.X402.ProofCache, "MANDATEBOT_X402_PROOF_CACHE")

	// ── Gateway ──
	setInt(&cfg.Gateway.Port, "MANDATEBOT_GATEWAY_PORT")
	setStr(&cfg.Gateway.Price, "MANDATEBOT_GATEWAY_PRICE")
	setStr(&cfg.Gateway.Token, "MANDATEBOT_GATEWAY_TOKEN")
	setStr(&cfg.Gateway.PaymentAddress, "MANDATEBOT_GATEWAY_PAYMENT_ADDRESS")
	setInt64(&cfg.Gateway.MinimumChainID, "MANDATEBOT_GATEWAY_MINIMUM_CHAIN_ID")
	setDuration(&cfg.Gateway.ChallengeTTL, "MANDATEBOT_GATEWAY_CHALLENGE_TTL")
	setStr(&cfg.Gateway.PaymentProvider, "MANDATEBOT_GATEWAY_PAYMENT_PROVIDER")
	setStr(&cfg.Gateway.AdminAPIKey, "MANDATEBOT_GATEWAY_ADMIN_API_KEY")
	setInt(&cfg.Gateway.RateLimitPerMinute, "MANDATEBOT_GATEWAY_RATE_LIMIT_PER_MINUTE")
	setBool(&cfg.Gateway.TrustProxyHeaders, "MANDATEBOT_GATEWAY_TRUST_PROXY_HEADERS")
	setStringSlice(&cfg.Gateway.CORSOrigins, "MANDATEBOT_GATEWAY_CORS_ORIGINS")
	setStr(&cfg.Gateway.ChallengeStore, "MANDATEBOT_GATEWAY_CHALLENGE_STORE")
	setStr(&cfg.Gateway.UsageStore, "MANDATEBOT_GATEWAY_USAGE_STORE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MANDATEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MANDATEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MANDATEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MANDATEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MANDATEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MANDATEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MANDATEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MANDATEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MANDATEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MANDATEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MANDATEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MANDATEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MANDATEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MANDATEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MANDATEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MANDATEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MANDATEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MANDATEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MANDATEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MANDATEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MANDATEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MANDATEBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "MANDATEBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "MANDATEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MANDATEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MANDATEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MANDATEBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ExportInterval, "MANDATEBOT_S3_EXPORT_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MANDATEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MANDATEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MANDATEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MANDATEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MANDATEBOT_MODE")
	setStr(&cfg.LogLevel, "MANDATEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
