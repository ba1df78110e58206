package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/platform/x402"
)

var testLogger = slog.New(slog.DiscardHandler)

const payTo = "0x00000000000000000000000000000000000000aa"

func newTestGateway(t *testing.T) (*Gateway, *MemoryChallengeStore, *MemoryUsageStore) {
	t.Helper()
	challenges := NewMemoryChallengeStore()
	usage := NewMemoryUsageStore()
	gw := New(Config{
		Price:          decimal.NewFromInt(1000),
		Token:          "USDC",
		PaymentAddress: payTo,
	}, challenges, usage, MockProvider{}, NewMetrics(prometheus.NewRegistry()), testLogger)
	return gw, challenges, usage
}

func proofFor(t *testing.T, c domain.PaymentChallenge) string {
	t.Helper()
	p, err := x402.NewMockMethod("agent-1", decimal.NewFromInt(1_000_000)).Pay(context.Background(), c)
	require.NoError(t, err)
	h, err := x402.EncodeProof(p)
	require.NoError(t, err)
	return h
}

func TestIssueChallenge(t *testing.T) {
	gw, challenges, _ := newTestGateway(t)
	now := time.Unix(1_700_000_000, 0)
	gw.now = func() time.Time { return now }

	a, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)
	b, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)

	assert.Len(t, a.Nonce, 64)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.Equal(t, now.Add(DefaultChallengeTTL).Unix(), a.ExpiresAt)
	assert.Equal(t, "USDC", a.Token)
	assert.Equal(t, 2, challenges.Len())
}

func TestSettle_ChallengeIsSingleUse(t *testing.T) {
	gw, challenges, _ := newTestGateway(t)
	c, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)
	header := proofFor(t, c)

	proof, err := gw.Settle(context.Background(), header)
	require.NoError(t, err)
	assert.Equal(t, c.Nonce, proof.Nonce)
	assert.Zero(t, challenges.Len())

	_, err = gw.Settle(context.Background(), header)
	assert.ErrorIs(t, err, domain.ErrUnknownChallenge)
}

func TestSettle_ConcurrentReplayAcceptsOnce(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	c, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)
	header := proofFor(t, c)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gw.Settle(context.Background(), header); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestSettle_ExpiredChallengeIsRejectedAndEvicted(t *testing.T) {
	gw, challenges, _ := newTestGateway(t)
	now := time.Unix(1_700_000_000, 0)
	gw.now = func() time.Time { return now }

	c, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)
	header := proofFor(t, c)

	now = now.Add(DefaultChallengeTTL + time.Second)
	_, err = gw.Settle(context.Background(), header)
	require.ErrorIs(t, err, domain.ErrChallengeExpired)
	assert.Zero(t, challenges.Len())
}

func TestSettle_Mismatches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.PaymentChallenge)
		want   error
	}{
		{"amount", func(c *domain.PaymentChallenge) { c.Amount = decimal.NewFromInt(1) }, domain.ErrAmountMismatch},
		{"address", func(c *domain.PaymentChallenge) {
			c.PaymentAddress = "0x00000000000000000000000000000000000000bb"
		}, domain.ErrPaymentRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, _, _ := newTestGateway(t)
			c, err := gw.IssueChallenge(context.Background(), "/x")
			require.NoError(t, err)

			tampered := c
			tt.mutate(&tampered)
			_, err = gw.Settle(context.Background(), proofFor(t, tampered))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSettle_MalformedProof(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	for _, h := range []string{"x402 {", "x402 {}", "x402 not-json"} {
		_, err := gw.Settle(context.Background(), h)
		assert.ErrorIs(t, err, domain.ErrProtocol, h)
	}
}

func TestRecordAndLogs(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	ctx := context.Background()
	ok := domain.PaymentProof{AgentID: "a", Amount: decimal.NewFromInt(1000)}
	gw.Record(ctx, "/x", ok, nil)
	gw.Record(ctx, "/x", ok, errors.New("boom"))
	gw.Record(ctx, "/x", domain.PaymentProof{}, domain.ErrProtocol)

	logs, summary, err := gw.Logs(ctx, "")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "boom", logs[1].ErrorMessage)
	assert.Equal(t, 2, summary["a"].Count)
	assert.True(t, summary["a"].TotalCost.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 1, summary[domain.UnknownAgent].Count)

	logs, _, err = gw.Logs(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestRunSweeper(t *testing.T) {
	gw, challenges, _ := newTestGateway(t)
	gw.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	_, err := gw.IssueChallenge(context.Background(), "/x")
	require.NoError(t, err)
	gw.now = func() time.Time { return time.Unix(1_800_000_000, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.RunSweeper(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return challenges.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestMockProvider(t *testing.T) {
	good := domain.PaymentProof{TransactionHash: common.HexToHash("0x01").Hex(), BlockNumber: 1}
	assert.NoError(t, MockProvider{}.VerifyPayment(context.Background(), good))

	bad := good
	bad.TransactionHash = "0x1234"
	assert.ErrorIs(t, MockProvider{}.VerifyPayment(context.Background(), bad), domain.ErrPaymentRejected)

	bad = good
	bad.BlockNumber = 0
	assert.ErrorIs(t, MockProvider{}.VerifyPayment(context.Background(), bad), domain.ErrPaymentRejected)
}

type fakeTxReader struct {
	receipt *types.Receipt
	tx      *types.Transaction
	err     error
}

func (f fakeTxReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func (f fakeTxReader) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return f.tx, false, nil
}

func TestChainProvider(t *testing.T) {
	to := common.HexToAddress(payTo)
	tx := types.NewTx(&types.LegacyTx{To: &to, Value: big.NewInt(1000), Gas: 21000, GasPrice: big.NewInt(1)})
	proof := domain.PaymentProof{TransactionHash: tx.Hash().Hex(), BlockNumber: 9, PaymentAddress: payTo}
	mined := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9)}

	require.NoError(t, NewChainProvider(fakeTxReader{receipt: mined, tx: tx}).VerifyPayment(context.Background(), proof))

	err := NewChainProvider(fakeTxReader{err: ethereum.NotFound}).VerifyPayment(context.Background(), proof)
	assert.ErrorIs(t, err, domain.ErrPaymentRejected)

	reverted := &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9)}
	err = NewChainProvider(fakeTxReader{receipt: reverted, tx: tx}).VerifyPayment(context.Background(), proof)
	assert.ErrorIs(t, err, domain.ErrPaymentRejected)

	elsewhere := proof
	elsewhere.PaymentAddress = "0x00000000000000000000000000000000000000bb"
	err = NewChainProvider(fakeTxReader{receipt: mined, tx: tx}).VerifyPayment(context.Background(), elsewhere)
	assert.ErrorIs(t, err, domain.ErrPaymentRejected)
}

type stubRegistry map[string]domain.Market

func (s stubRegistry) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := s[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func TestSignals(t *testing.T) {
	reg := stubRegistry{"0xaa": {MarketID: "0xaa", YesLiquidity: big.NewInt(1000), NoLiquidity: big.NewInt(500)}}
	s := NewSignals(reg, map[string]int{"0xBB": 10})

	p, src, err := s.Probability(context.Background(), "0xaa")
	require.NoError(t, err)
	assert.Equal(t, 67, p)
	assert.Equal(t, SourceRegistry, src)

	p, src, err = s.Probability(context.Background(), "0xbb")
	require.NoError(t, err)
	assert.Equal(t, 10, p)
	assert.Equal(t, SourceOverride, src)

	_, _, err = s.Probability(context.Background(), "0xcc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = NewSignals(nil, nil).Probability(context.Background(), "0xaa")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
