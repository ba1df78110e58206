package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/agent"
	"github.com/alanyoungcy/mandatebot/internal/config"
	"github.com/alanyoungcy/mandatebot/internal/gateway"
	"github.com/alanyoungcy/mandatebot/internal/platform/x402"
)

var testLogger = slog.New(slog.DiscardHandler)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "full"
	cfg.Agent.PrivateKey = testKey
	cfg.Agent.AgentID = 7
	cfg.Agent.AccountAddress = "0x00000000000000000000000000000000000000bb"
	cfg.Agent.MarketIDs = []string{"0x0000000000000000000000000000000000000000000000000000000000000001"}
	cfg.Agent.DryRun = true
	cfg.Chain.MandateRegistry = "0x00000000000000000000000000000000000000aa"
	cfg.Chain.MarketRegistry = "0x00000000000000000000000000000000000000ab"
	cfg.TxBuilder.MarketContract = "0x00000000000000000000000000000000000000cc"
	return &cfg
}

func TestWire_DefaultsUseMemoryBackends(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), testConfig(), testLogger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &gateway.MemoryChallengeStore{}, deps.ChallengeStore)
	assert.IsType(t, &gateway.MemoryUsageStore{}, deps.UsageStore)
	assert.IsType(t, &x402.MemoryProofCache{}, deps.ProofCache)

	// Disabled backends stay nil interfaces.
	assert.Nil(t, deps.AuditStore)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.EventBus)
	assert.Nil(t, deps.BlobWriter)
	assert.False(t, deps.Notifier.Enabled())
}

func TestBuildAgent_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.IncludePremium = true
	cfg.X402.PaymentMethod = "cached"
	a := New(cfg, "test", testLogger)

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	defer cleanup()

	loop, err := a.buildAgent(deps)
	require.NoError(t, err)
	assert.Equal(t, agent.StateStopped, loop.State())
}

func TestBuildAgent_BadKey(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.PrivateKey = "zz"
	a := New(cfg, "test", testLogger)

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	defer cleanup()

	_, err = a.buildAgent(deps)
	assert.Error(t, err)
}

func TestBuildGateway(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.MinimumChainID = 8453
	a := New(cfg, "test", testLogger)

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	defer cleanup()

	gw, srv, err := a.buildGateway(deps)
	require.NoError(t, err)
	require.NotNil(t, srv)

	c, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)
	require.NotNil(t, c.MinimumChainID)
	assert.Equal(t, int64(8453), *c.MinimumChainID)
	assert.Equal(t, "1000", c.Amount.String())
}

func TestRun_CancelledContextStopsCleanly(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "agent"
	a := New(cfg, "test", testLogger)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
}
