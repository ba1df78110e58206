// Package config defines the top-level configuration for mandatebot and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MANDATEBOT_* environment variables.
type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	Chain     ChainConfig     `toml:"chain"`
	TxBuilder TxBuilderConfig `toml:"txbuilder"`
	X402      X402Config      `toml:"x402"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// AgentConfig holds the agent identity and loop parameters.
type AgentConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	AgentID          int64  `toml:"agent_id"`
	// AccountAddress is the delegated smart account that granted the mandate.
	AccountAddress string   `toml:"account_address"`
	MarketIDs      []string `toml:"market_ids"`
	IncludePremium bool     `toml:"include_premium"`
	// RebalanceIntervalSeconds is the re-check delay when no market produced a signal.
	RebalanceIntervalSeconds int `toml:"rebalance_interval_seconds"`
	// MaxPositionSize optionally caps trade size below the mandate limit.
	// Empty means the mandate limit alone applies.
	MaxPositionSize     string `toml:"max_position_size"`
	ErrorBackoffSeconds int    `toml:"error_backoff_seconds"`
	DryRun              bool   `toml:"dry_run"`
}

// ChainConfig holds RPC and registry parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	MandateRegistry string   `toml:"mandate_registry"`
	MarketRegistry  string   `toml:"market_registry"`
	CallTimeout     duration `toml:"call_timeout"`
	ReceiptTimeout  duration `toml:"receipt_timeout"`
	GasLimit        uint64   `toml:"gas_limit"`
}

// TxBuilderConfig selects the transaction builder variant.
type TxBuilderConfig struct {
	Variant        string `toml:"variant"`
	MarketContract string `toml:"market_contract"`
	PolicyContract string `toml:"policy_contract"`
}

// X402Config holds gated-data client parameters.
type X402Config struct {
	BaseURL       string   `toml:"base_url"`
	PaymentMethod string   `toml:"payment_method"`
	MockBalance   string   `toml:"mock_balance"`
	ProofValidity duration `toml:"proof_validity"`
	Timeout       duration `toml:"timeout"`
	// ProofCache selects where cached proofs live: "memory" or "redis".
	ProofCache string `toml:"proof_cache"`
}

// GatewayConfig holds gated-data server parameters.
type GatewayConfig struct {
	Port               int      `toml:"port"`
	Price              string   `toml:"price"`
	Token              string   `toml:"token"`
	PaymentAddress     string   `toml:"payment_address"`
	MinimumChainID     int64    `toml:"minimum_chain_id"`
	ChallengeTTL       duration `toml:"challenge_ttl"`
	PaymentProvider    string   `toml:"payment_provider"`
	AdminAPIKey        string   `toml:"admin_api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	TrustProxyHeaders  bool     `toml:"trust_proxy_headers"`
	CORSOrigins        []string `toml:"cors_origins"`
	// ChallengeStore is "memory" or "redis"; UsageStore is "memory" or "postgres".
	ChallengeStore       string         `toml:"challenge_store"`
	UsageStore           string         `toml:"usage_store"`
	ProbabilityOverrides map[string]int `toml:"probability_overrides"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	Prefix         string   `toml:"prefix"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ExportInterval duration `toml:"export_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			RebalanceIntervalSeconds: 300,
			ErrorBackoffSeconds:      60,
		},
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        31337,
			CallTimeout:    duration{5 * time.Second},
			ReceiptTimeout: duration{2 * time.Minute},
		},
		TxBuilder: TxBuilderConfig{
			Variant: "market",
		},
		X402: X402Config{
			BaseURL:       "http://localhost:8402",
			PaymentMethod: "mock",
			MockBalance:   "1000000",
			ProofValidity: duration{5 * time.Minute},
			Timeout:       duration{5 * time.Second},
			ProofCache:    "memory",
		},
		Gateway: GatewayConfig{
			Port:                 8402,
			Price:                "1000",
			Token:                "USDC",
			PaymentAddress:       "0x0000000000000000000000000000000000000000",
			ChallengeTTL:         duration{5 * time.Minute},
			PaymentProvider:      "mock",
			RateLimitPerMinute:   60,
			CORSOrigins:          []string{"http://localhost:3000"},
			ChallengeStore:       "memory",
			UsageStore:           "memory",
			ProbabilityOverrides: map[string]int{},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mandatebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mandatebot-usage",
			Prefix:         "usage",
			ForcePathStyle: true,
			ExportInterval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "error"},
		},
		Mode:     "agent",
		LogLevel: "info",
	}
}

// RunsAgent reports whether the configured mode starts the trading loop.
func (c *Config) RunsAgent() bool {
	m := strings.ToLower(c.Mode)
	return m == "agent" || m == "full"
}

// RunsGateway reports whether the configured mode starts the gated-data server.
func (c *Config) RunsGateway() bool {
	m := strings.ToLower(c.Mode)
	return m == "gateway" || m == "full"
}

// MaxPosition parses Agent.MaxPositionSize. It returns nil when unset.
func (c *Config) MaxPosition() *big.Int {
	if strings.TrimSpace(c.Agent.MaxPositionSize) == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(c.Agent.MaxPositionSize), 10)
	if !ok {
		return nil
	}
	return n
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"agent":   true,
	"gateway": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var (
	validVariants        = map[string]bool{"market": true, "policy": true}
	validPaymentMethods  = map[string]bool{"mock": true, "blockchain": true, "cached": true}
	validProviders       = map[string]bool{"mock": true, "chain": true}
	validChallengeStores = map[string]bool{"memory": true, "redis": true}
	validUsageStores     = map[string]bool{"memory": true, "postgres": true}
	validProofCaches     = map[string]bool{"memory": true, "redis": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: agent, gateway, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.RunsAgent() {
		errs = append(errs, c.validateAgent()...)
	}
	if c.RunsGateway() {
		errs = append(errs, c.validateGateway()...)
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ExportInterval.Duration <= 0 {
			errs = append(errs, "s3: export_interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateAgent() []string {
	var errs []string

	if c.Agent.PrivateKey == "" && c.Agent.EncryptedKeyPath == "" {
		errs = append(errs, "agent: either private_key or encrypted_key_path must be set for mode "+c.Mode)
	}
	if c.Agent.EncryptedKeyPath != "" && c.Agent.KeyPassword == "" {
		errs = append(errs, "agent: key_password is required when encrypted_key_path is set")
	}
	if c.Agent.AgentID <= 0 {
		errs = append(errs, "agent: agent_id must be positive")
	}
	if !common.IsHexAddress(c.Agent.AccountAddress) {
		errs = append(errs, fmt.Sprintf("agent: account_address %q is not a hex address", c.Agent.AccountAddress))
	}
	if len(c.Agent.MarketIDs) == 0 {
		errs = append(errs, "agent: market_ids must list at least one market")
	}
	for _, id := range c.Agent.MarketIDs {
		if !isBytes32Hex(id) {
			errs = append(errs, fmt.Sprintf("agent: market id %q is not a 0x-prefixed bytes32", id))
		}
	}
	if c.Agent.RebalanceIntervalSeconds <= 0 {
		errs = append(errs, "agent: rebalance_interval_seconds must be > 0")
	}
	if c.Agent.ErrorBackoffSeconds <= 0 {
		errs = append(errs, "agent: error_backoff_seconds must be > 0")
	}
	if c.Agent.MaxPositionSize != "" {
		if n := c.MaxPosition(); n == nil || n.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("agent: max_position_size %q must be a positive integer", c.Agent.MaxPositionSize))
		}
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.MandateRegistry) {
		errs = append(errs, fmt.Sprintf("chain: mandate_registry %q is not a hex address", c.Chain.MandateRegistry))
	}
	if !common.IsHexAddress(c.Chain.MarketRegistry) {
		errs = append(errs, fmt.Sprintf("chain: market_registry %q is not a hex address", c.Chain.MarketRegistry))
	}
	if c.Chain.CallTimeout.Duration <= 0 {
		errs = append(errs, "chain: call_timeout must be > 0")
	}

	switch v := strings.ToLower(c.TxBuilder.Variant); {
	case !validVariants[v]:
		errs = append(errs, fmt.Sprintf("txbuilder: unknown variant %q (valid: market, policy)", c.TxBuilder.Variant))
	case v == "market" && !common.IsHexAddress(c.TxBuilder.MarketContract):
		errs = append(errs, "txbuilder: market_contract must be a hex address for variant market")
	case v == "policy" && !common.IsHexAddress(c.TxBuilder.PolicyContract):
		errs = append(errs, "txbuilder: policy_contract must be a hex address for variant policy")
	}

	if !validPaymentMethods[strings.ToLower(c.X402.PaymentMethod)] {
		errs = append(errs, fmt.Sprintf("x402: unknown payment_method %q (valid: mock, blockchain, cached)", c.X402.PaymentMethod))
	}
	if _, err := decimal.NewFromString(c.X402.MockBalance); err != nil {
		errs = append(errs, fmt.Sprintf("x402: mock_balance %q is not a decimal", c.X402.MockBalance))
	}
	if c.X402.Timeout.Duration <= 0 {
		errs = append(errs, "x402: timeout must be > 0")
	}
	if !validProofCaches[strings.ToLower(c.X402.ProofCache)] {
		errs = append(errs, fmt.Sprintf("x402: unknown proof_cache %q (valid: memory, redis)", c.X402.ProofCache))
	}
	if strings.EqualFold(c.X402.ProofCache, "redis") && !c.Redis.Enabled {
		errs = append(errs, "x402: proof_cache redis requires redis.enabled")
	}
	if c.Agent.IncludePremium && c.X402.BaseURL == "" {
		errs = append(errs, "x402: base_url is required when agent.include_premium is set")
	}

	return errs
}

func (c *Config) validateGateway() []string {
	var errs []string

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway: port must be 1-65535, got %d", c.Gateway.Port))
	}
	if p, err := decimal.NewFromString(c.Gateway.Price); err != nil || !p.IsPositive() {
		errs = append(errs, fmt.Sprintf("gateway: price %q must be a positive decimal", c.Gateway.Price))
	}
	if !common.IsHexAddress(c.Gateway.PaymentAddress) {
		errs = append(errs, fmt.Sprintf("gateway: payment_address %q is not a hex address", c.Gateway.PaymentAddress))
	}
	if c.Gateway.ChallengeTTL.Duration <= 0 {
		errs = append(errs, "gateway: challenge_ttl must be > 0")
	}
	if !validProviders[strings.ToLower(c.Gateway.PaymentProvider)] {
		errs = append(errs, fmt.Sprintf("gateway: unknown payment_provider %q (valid: mock, chain)", c.Gateway.PaymentProvider))
	}
	if !validChallengeStores[strings.ToLower(c.Gateway.ChallengeStore)] {
		errs = append(errs, fmt.Sprintf("gateway: unknown challenge_store %q (valid: memory, redis)", c.Gateway.ChallengeStore))
	}
	if strings.EqualFold(c.Gateway.ChallengeStore, "redis") && !c.Redis.Enabled {
		errs = append(errs, "gateway: challenge_store redis requires redis.enabled")
	}
	if !validUsageStores[strings.ToLower(c.Gateway.UsageStore)] {
		errs = append(errs, fmt.Sprintf("gateway: unknown usage_store %q (valid: memory, postgres)", c.Gateway.UsageStore))
	}
	if strings.EqualFold(c.Gateway.UsageStore, "postgres") && !c.Postgres.Enabled {
		errs = append(errs, "gateway: usage_store postgres requires postgres.enabled")
	}
	for id, p := range c.Gateway.ProbabilityOverrides {
		if p < 0 || p > 100 {
			errs = append(errs, fmt.Sprintf("gateway: probability override for %s must be 0-100, got %d", id, p))
		}
	}
	if strings.EqualFold(c.Gateway.PaymentProvider, "chain") && c.Chain.RPCURL == "" {
		errs = append(errs, "gateway: payment_provider chain requires chain.rpc_url")
	}

	return errs
}

func isBytes32Hex(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	return len(s) == 66 && isHex(s[2:])
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
