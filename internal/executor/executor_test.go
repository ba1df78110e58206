package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/crypto"
	"github.com/alanyoungcy/mandatebot/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	account = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	target  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

type fakeBackend struct {
	mu          sync.Mutex
	estimateErr error
	sendErr     error
	status      uint64
	pending     int // receipt polls answered with NotFound
	sent        []*types.Transaction
	estimated   *ethereum.CallMsg
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(10), nil }

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimated = &msg
	return 100_000, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, GasUsed: 21_000}, nil
}

func newExecutor(t *testing.T, b *fakeBackend, gasLimit uint64) *ChainExecutor {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 31337)
	require.NoError(t, err)
	return NewChainExecutor(Config{
		Account:        account,
		GasLimit:       gasLimit,
		ReceiptTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}, b, signer, testLogger)
}

func payload() domain.TxPayload {
	return domain.TxPayload{Target: target, Value: new(big.Int), Data: []byte{0xde, 0xad}, Variant: "market"}
}

func TestChainExecutor_WrapsPayloadInExecute(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful, pending: 2}
	e := newExecutor(t, b, 0)

	res := e.Execute(context.Background(), payload())
	require.True(t, res.Success, res.Error)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, res.TxHash, tx.Hash().Hex())
	assert.Equal(t, account, *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate plus headroom")

	method := accountABI.Methods["execute"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, target, args[0])
	assert.Equal(t, []byte{0xde, 0xad}, args[2])

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), sender)
	require.NotNil(t, b.estimated)
	assert.Equal(t, sender, b.estimated.From)
}

func TestChainExecutor_ConfiguredGasLimitSkipsEstimate(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	res := newExecutor(t, b, 250_000).Execute(context.Background(), payload())
	require.True(t, res.Success)
	assert.Nil(t, b.estimated)
	assert.Equal(t, uint64(250_000), b.sent[0].Gas())
}

func TestChainExecutor_FailuresBecomeResults(t *testing.T) {
	t.Run("revert", func(t *testing.T) {
		b := &fakeBackend{status: types.ReceiptStatusFailed}
		res := newExecutor(t, b, 0).Execute(context.Background(), payload())
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.TxHash)
		assert.Contains(t, res.Error, domain.ErrExecutionReverted.Error())
	})
	t.Run("estimate", func(t *testing.T) {
		b := &fakeBackend{estimateErr: errors.New("execution reverted: mandate expired")}
		res := newExecutor(t, b, 0).Execute(context.Background(), payload())
		assert.False(t, res.Success)
		assert.Empty(t, res.TxHash)
		assert.Contains(t, res.Error, "mandate expired")
	})
	t.Run("send", func(t *testing.T) {
		b := &fakeBackend{sendErr: errors.New("nonce too low")}
		res := newExecutor(t, b, 0).Execute(context.Background(), payload())
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "nonce too low")
	})
	t.Run("receipt timeout", func(t *testing.T) {
		b := &fakeBackend{pending: 1 << 30}
		e := newExecutor(t, b, 0)
		e.cfg.ReceiptTimeout = 20 * time.Millisecond
		res := e.Execute(context.Background(), payload())
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.TxHash)
		assert.Contains(t, res.Error, "deadline exceeded")
	})
}

func TestChainExecutor_DedupsSuccessfulPayloads(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	e := newExecutor(t, b, 0)

	require.True(t, e.Execute(context.Background(), payload()).Success)
	res := e.Execute(context.Background(), payload())
	assert.False(t, res.Success)
	assert.Len(t, b.sent, 1)

	other := payload()
	other.Data = []byte{0x01}
	assert.True(t, e.Execute(context.Background(), other).Success)
}

func TestDedup_Expires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	d.Mark("k")
	assert.True(t, d.Seen("k"))
	now = now.Add(time.Minute)
	assert.False(t, d.Seen("k"))
}

func TestDryRun_NeverSends(t *testing.T) {
	d := NewDryRun(testLogger)
	a := d.Execute(context.Background(), payload())
	b := d.Execute(context.Background(), payload())
	assert.True(t, a.Success)
	assert.Len(t, a.TxHash, 66)
	assert.NotEqual(t, a.TxHash, b.TxHash)
}

type fakeBus struct {
	stream string
	msgs   [][]byte
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.stream = stream
	f.msgs = append(f.msgs, payload)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct{ events []string }

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.events = append(f.events, event)
	return errors.New("telegram down")
}

type fixedExecutor domain.ExecutionResult

func (f fixedExecutor) Execute(context.Context, domain.TxPayload) domain.ExecutionResult {
	return domain.ExecutionResult(f)
}

func TestReporting_PublishesAndNotifies(t *testing.T) {
	bus := &fakeBus{}
	n := &fakeNotifier{}

	ok := NewReporting(fixedExecutor{Success: true, TxHash: "0x01"}, "7", bus, n, testLogger)
	res := ok.Execute(context.Background(), payload())
	assert.True(t, res.Success, "sink failures do not change the result")

	failed := NewReporting(fixedExecutor{Error: "reverted"}, "7", bus, n, testLogger)
	failed.Execute(context.Background(), payload())

	assert.Equal(t, SettlementStream, bus.stream)
	require.Len(t, bus.msgs, 2)
	var s Settlement
	require.NoError(t, json.Unmarshal(bus.msgs[1], &s))
	assert.Equal(t, "reverted", s.Error)
	assert.Equal(t, "7", s.AgentID)
	assert.Equal(t, []string{EventTradeExecuted, EventTradeFailed}, n.events)

	assert.True(t, NewReporting(fixedExecutor{Success: true}, "7", nil, nil, testLogger).Execute(context.Background(), payload()).Success)
}
