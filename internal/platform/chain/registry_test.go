package chain

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

type fakeCaller struct {
	out      []byte
	err      error
	lastMsg  ethereum.CallMsg
	deadline bool
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastMsg = msg
	_, f.deadline = ctx.Deadline()
	return f.out, f.err
}

var (
	registryAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	accountAddr  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	agentAddr    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func marketID(b byte) [32]byte {
	var id [32]byte
	id[31] = b
	return id
}

func TestMandateRegistry_GetMandate(t *testing.T) {
	out, err := mandateRegistryABI.Methods["getMandate"].Outputs.Pack(
		agentAddr,
		big.NewInt(100),
		[][32]byte{marketID(1), marketID(2)},
		big.NewInt(1_800_000_000),
		true,
		big.NewInt(1_700_000_000),
	)
	require.NoError(t, err)

	fc := &fakeCaller{out: out}
	r := NewMandateRegistry(fc, registryAddr, time.Second)

	m, err := r.GetMandate(context.Background(), accountAddr, agentAddr)
	require.NoError(t, err)

	assert.Equal(t, agentAddr.Hex(), m.Agent)
	assert.Equal(t, int64(100), m.MaxTradeSize.Int64())
	assert.Equal(t, []string{domain.FormatMarketID(marketID(1)), domain.FormatMarketID(marketID(2))}, m.AllowedMarkets)
	assert.Equal(t, int64(1_800_000_000), m.ExpiryTime)
	assert.True(t, m.IsActive)
	assert.Equal(t, int64(1_700_000_000), m.CreatedAt)

	require.NotNil(t, fc.lastMsg.To)
	assert.Equal(t, registryAddr, *fc.lastMsg.To)
	assert.Equal(t, mandateRegistryABI.Methods["getMandate"].ID, fc.lastMsg.Data[:4])
	assert.True(t, fc.deadline, "registry reads carry a deadline")
}

func TestMandateRegistry_NeverExpiringMandate(t *testing.T) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	out, err := mandateRegistryABI.Methods["getMandate"].Outputs.Pack(
		agentAddr, big.NewInt(100), [][32]byte{}, maxUint256, true, maxUint256,
	)
	require.NoError(t, err)

	r := NewMandateRegistry(&fakeCaller{out: out}, registryAddr, 0)
	m, err := r.GetMandate(context.Background(), accountAddr, agentAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), m.ExpiryTime)
	assert.Equal(t, int64(math.MaxInt64), m.CreatedAt)
	assert.False(t, m.Expired(time.Now()))
}

func TestMandateRegistry_ZeroAgentIsNotFound(t *testing.T) {
	out, err := mandateRegistryABI.Methods["getMandate"].Outputs.Pack(
		common.Address{}, big.NewInt(0), [][32]byte{}, big.NewInt(0), false, big.NewInt(0),
	)
	require.NoError(t, err)

	r := NewMandateRegistry(&fakeCaller{out: out}, registryAddr, 0)
	_, err = r.GetMandate(context.Background(), accountAddr, agentAddr)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMandateRegistry_CallErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewMandateRegistry(&fakeCaller{err: boom}, registryAddr, 0)
	_, err := r.GetMandate(context.Background(), accountAddr, agentAddr)
	assert.ErrorIs(t, err, boom)
}

func TestMarketRegistry_GetMarket(t *testing.T) {
	id := marketID(7)
	resolver := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	out, err := marketRegistryABI.Methods["getMarket"].Outputs.Pack(
		id,
		"Will it rain?",
		big.NewInt(1_700_000_000),
		big.NewInt(1_700_086_400),
		uint8(0),
		uint8(0),
		big.NewInt(1000),
		big.NewInt(500),
		resolver,
	)
	require.NoError(t, err)

	fc := &fakeCaller{out: out}
	r := NewMarketRegistry(fc, registryAddr, time.Second)

	m, err := r.GetMarket(context.Background(), domain.FormatMarketID(id))
	require.NoError(t, err)

	assert.Equal(t, domain.FormatMarketID(id), m.MarketID)
	assert.Equal(t, "Will it rain?", m.Question)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, domain.OutcomeUnresolved, m.Outcome)
	assert.Equal(t, resolver.Hex(), m.Resolver)
	assert.Equal(t, 67, m.YesProbability)
	assert.Equal(t, domain.ProbabilityLocal, m.ProbabilitySource)
}

func TestMarketRegistry_UnknownMarket(t *testing.T) {
	out, err := marketRegistryABI.Methods["getMarket"].Outputs.Pack(
		[32]byte{}, "", big.NewInt(0), big.NewInt(0), uint8(0), uint8(0), big.NewInt(0), big.NewInt(0), common.Address{},
	)
	require.NoError(t, err)

	r := NewMarketRegistry(&fakeCaller{out: out}, registryAddr, 0)
	_, err = r.GetMarket(context.Background(), domain.FormatMarketID(marketID(9)))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketRegistry_RejectsMalformedID(t *testing.T) {
	fc := &fakeCaller{}
	r := NewMarketRegistry(fc, registryAddr, 0)
	_, err := r.GetMarket(context.Background(), "market-1")
	require.Error(t, err)
	assert.Nil(t, fc.lastMsg.To, "no call is made for a malformed id")
}
