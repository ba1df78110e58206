package txbuilder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	marketID = "0x00000000000000000000000000000000000000000000000000000000000000a1"
)

func TestNew_SelectsVariant(t *testing.T) {
	b, err := New("market", contract)
	require.NoError(t, err)
	assert.Equal(t, VariantMarket, b.Variant())

	b, err = New("POLICY", contract)
	require.NoError(t, err)
	assert.Equal(t, VariantPolicy, b.Variant())

	_, err = New("direct", contract)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New("market", common.Address{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMarketBuilder_EncodesPlaceTrade(t *testing.T) {
	p, err := MarketBuilder{Contract: contract}.Build(Trade{
		MarketID:  marketID,
		Size:      big.NewInt(500),
		Direction: domain.DirectionNo,
	})
	require.NoError(t, err)
	assert.Equal(t, contract, p.Target)
	assert.Zero(t, p.Value.Sign())

	method := marketABI.Methods["placeTrade"]
	assert.Equal(t, method.ID, p.Data[:4])

	args, err := method.Inputs.Unpack(p.Data[4:])
	require.NoError(t, err)
	id := args[0].([32]byte)
	assert.Equal(t, marketID, domain.FormatMarketID(id))
	assert.Equal(t, false, args[1])
	assert.Equal(t, int64(500), args[2].(*big.Int).Int64())
}

func TestPolicyBuilder_EncodesAgentID(t *testing.T) {
	p, err := PolicyBuilder{Contract: contract}.Build(Trade{
		MarketID:  marketID,
		AgentID:   42,
		Size:      big.NewInt(7),
		Direction: domain.DirectionYes,
	})
	require.NoError(t, err)

	method := policyABI.Methods["executeTrade"]
	assert.Equal(t, method.ID, p.Data[:4])
	args, err := method.Inputs.Unpack(p.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(42), args[0].(*big.Int).Int64())
	assert.Equal(t, true, args[2])
	assert.Equal(t, VariantPolicy, p.Variant)
}

func TestBuild_RejectsBadTrades(t *testing.T) {
	b := MarketBuilder{Contract: contract}
	bad := []Trade{
		{MarketID: "market-1", Size: big.NewInt(1), Direction: domain.DirectionYes},
		{MarketID: marketID, Size: big.NewInt(0), Direction: domain.DirectionYes},
		{MarketID: marketID, Direction: domain.DirectionYes},
		{MarketID: marketID, Size: big.NewInt(1), Direction: "MAYBE"},
	}
	for _, tr := range bad {
		_, err := b.Build(tr)
		assert.Error(t, err, "%+v", tr)
	}
}
