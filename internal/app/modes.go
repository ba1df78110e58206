package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mandatebot/internal/agent"
	"github.com/alanyoungcy/mandatebot/internal/crypto"
	"github.com/alanyoungcy/mandatebot/internal/executor"
	"github.com/alanyoungcy/mandatebot/internal/gateway"
	"github.com/alanyoungcy/mandatebot/internal/platform/chain"
	"github.com/alanyoungcy/mandatebot/internal/platform/x402"
	"github.com/alanyoungcy/mandatebot/internal/server"
	"github.com/alanyoungcy/mandatebot/internal/server/handler"
	"github.com/alanyoungcy/mandatebot/internal/service"
	"github.com/alanyoungcy/mandatebot/internal/strategy"
	"github.com/alanyoungcy/mandatebot/internal/txbuilder"
)

// sweepInterval is how often expired in-memory challenges are evicted.
const sweepInterval = 30 * time.Second

// buildAgent assembles the trading loop: registries, services, the optional
// gated-data client, strategy, builder and executor.
func (a *App) buildAgent(deps *Dependencies) (*agent.Loop, error) {
	cfg := a.cfg

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Agent.PrivateKey,
		EncryptedKeyPath: cfg.Agent.EncryptedKeyPath,
		KeyPassword:      cfg.Agent.KeyPassword,
	}, cfg.Chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: load agent key: %w", err)
	}
	agentID := strconv.FormatInt(cfg.Agent.AgentID, 10)
	account := common.HexToAddress(cfg.Agent.AccountAddress)

	mandates := service.NewMandateService(
		chain.NewMandateRegistry(deps.Chain, common.HexToAddress(cfg.Chain.MandateRegistry), cfg.Chain.CallTimeout.Duration),
		a.logger,
	)

	var (
		premium service.ProbabilitySource
		usage   agent.UsageReporter
	)
	if cfg.Agent.IncludePremium {
		client, err := a.buildX402Client(deps, agentID)
		if err != nil {
			return nil, err
		}
		premium, usage = client, client
	}
	markets := service.NewMarketService(
		chain.NewMarketRegistry(deps.Chain, common.HexToAddress(cfg.Chain.MarketRegistry), cfg.Chain.CallTimeout.Duration),
		premium,
		a.logger,
	)

	strat := strategy.NewThreshold(strategy.ThresholdConfig{
		NoSignalDelay: time.Duration(cfg.Agent.RebalanceIntervalSeconds) * time.Second,
	}, a.logger)

	target := cfg.TxBuilder.MarketContract
	if strings.EqualFold(cfg.TxBuilder.Variant, txbuilder.VariantPolicy) {
		target = cfg.TxBuilder.PolicyContract
	}
	builder, err := txbuilder.New(cfg.TxBuilder.Variant, common.HexToAddress(target))
	if err != nil {
		return nil, fmt.Errorf("app: tx builder: %w", err)
	}

	var exec executor.Executor
	if cfg.Agent.DryRun {
		a.logger.Warn("dry run: transactions are not broadcast")
		exec = executor.NewDryRun(a.logger)
	} else {
		exec = executor.NewChainExecutor(executor.Config{
			Account:        account,
			GasLimit:       cfg.Chain.GasLimit,
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
		}, deps.Chain, signer, a.logger)
	}
	exec = executor.NewReporting(exec, agentID, deps.EventBus, deps.Notifier, a.logger)

	a.logger.Info("agent configured",
		slog.String("agent", signer.Address().Hex()),
		slog.String("account", account.Hex()),
		slog.String("variant", builder.Variant()),
		slog.Int("markets", len(cfg.Agent.MarketIDs)),
		slog.Bool("include_premium", cfg.Agent.IncludePremium),
	)

	return agent.New(agent.Config{
		AgentID:        cfg.Agent.AgentID,
		Account:        account,
		Agent:          signer.Address(),
		MarketIDs:      cfg.Agent.MarketIDs,
		IncludePremium: cfg.Agent.IncludePremium,
		MaxPosition:    cfg.MaxPosition(),
		ErrorBackoff:   time.Duration(cfg.Agent.ErrorBackoffSeconds) * time.Second,
	}, mandates, markets, strat, builder, exec, usage, deps.AuditStore, a.logger), nil
}

func (a *App) buildX402Client(deps *Dependencies, agentID string) (*x402.Client, error) {
	cfg := a.cfg.X402
	kind, err := x402.ParseMethodKind(cfg.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	balance, err := decimal.NewFromString(cfg.MockBalance)
	if err != nil {
		return nil, fmt.Errorf("app: x402 mock_balance: %w", err)
	}

	var method x402.PaymentMethod
	switch kind {
	case x402.MethodMock:
		method = x402.NewMockMethod(agentID, balance)
	case x402.MethodCached:
		method = x402.NewCachedMethod(deps.ProofCache, x402.NewMockMethod(agentID, balance), cfg.ProofValidity.Duration)
	default:
		method = x402.BlockchainMethod{}
	}

	return x402.NewClient(x402.ClientConfig{
		BaseURL: cfg.BaseURL,
		AgentID: agentID,
		Timeout: cfg.Timeout.Duration,
	}, method, a.logger), nil
}

// buildGateway assembles the gated-data server and its challenge issuer.
func (a *App) buildGateway(deps *Dependencies) (*gateway.Gateway, *server.Server, error) {
	cfg := a.cfg.Gateway

	price, err := decimal.NewFromString(cfg.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("app: gateway price: %w", err)
	}
	var minChain *int64
	if cfg.MinimumChainID > 0 {
		id := cfg.MinimumChainID
		minChain = &id
	}

	var provider gateway.PaymentProvider = gateway.MockProvider{}
	if strings.EqualFold(cfg.PaymentProvider, "chain") {
		provider = gateway.NewChainProvider(deps.Chain)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gw := gateway.New(gateway.Config{
		Price:          price,
		Token:          cfg.Token,
		PaymentAddress: cfg.PaymentAddress,
		MinimumChainID: minChain,
		ChallengeTTL:   cfg.ChallengeTTL.Duration,
	}, deps.ChallengeStore, deps.UsageStore, provider, gateway.NewMetrics(reg), a.logger)

	var registry gateway.MarketReader
	if common.IsHexAddress(a.cfg.Chain.MarketRegistry) {
		registry = chain.NewMarketRegistry(deps.Chain, common.HexToAddress(a.cfg.Chain.MarketRegistry), a.cfg.Chain.CallTimeout.Duration)
	}
	signals := gateway.NewSignals(registry, cfg.ProbabilityOverrides)

	srv := server.NewServer(server.Config{
		Port:               cfg.Port,
		CORSOrigins:        cfg.CORSOrigins,
		AdminAPIKey:        cfg.AdminAPIKey,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.version, deps.HealthChecks, a.logger),
		Premium: handler.NewPremiumHandler(gw, signals, a.logger),
		Admin:   handler.NewAdminHandler(gw, a.logger),
	}, deps.RateLimiter, reg, a.logger)

	return gw, srv, nil
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *server.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	return <-errCh
}
