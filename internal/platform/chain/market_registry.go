package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

const marketRegistryABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"marketId","type":"bytes32"}],"name":"getMarket","outputs":[{"internalType":"bytes32","name":"marketId","type":"bytes32"},{"internalType":"string","name":"question","type":"string"},{"internalType":"uint256","name":"createdAt","type":"uint256"},{"internalType":"uint256","name":"resolutionTime","type":"uint256"},{"internalType":"uint8","name":"status","type":"uint8"},{"internalType":"uint8","name":"outcome","type":"uint8"},{"internalType":"uint256","name":"yesLiquidity","type":"uint256"},{"internalType":"uint256","name":"noLiquidity","type":"uint256"},{"internalType":"address","name":"resolver","type":"address"}],"stateMutability":"view","type":"function"}]`

var marketRegistryABI = mustParseABI(marketRegistryABIJSON)

// MarketRegistry reads market state from the market registry contract.
type MarketRegistry struct {
	caller  Caller
	address common.Address
	timeout time.Duration
}

// NewMarketRegistry creates a reader for the registry at address.
func NewMarketRegistry(caller Caller, address common.Address, timeout time.Duration) *MarketRegistry {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &MarketRegistry{caller: caller, address: address, timeout: timeout}
}

// GetMarket reads one market. Markets never created (zero createdAt) yield
// domain.ErrNotFound. The returned market carries its local probability.
func (r *MarketRegistry) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	id, err := domain.ParseMarketID(marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := marketRegistryABI.Pack("getMarket", id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: pack getMarket: %w", err)
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: payload}, nil)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: getMarket: %w", err)
	}
	out, err := marketRegistryABI.Unpack("getMarket", res)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: unpack getMarket: %w", err)
	}
	if len(out) != 9 {
		return domain.Market{}, fmt.Errorf("chain: getMarket returned %d values", len(out))
	}

	gotID, ok1 := out[0].([32]byte)
	question, ok2 := out[1].(string)
	createdAt, ok3 := out[2].(*big.Int)
	resolution, ok4 := out[3].(*big.Int)
	status, ok5 := out[4].(uint8)
	outcome, ok6 := out[5].(uint8)
	yes, ok7 := out[6].(*big.Int)
	no, ok8 := out[7].(*big.Int)
	resolver, ok9 := out[8].(common.Address)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		return domain.Market{}, fmt.Errorf("chain: getMarket: unexpected output types")
	}
	if createdAt.Sign() == 0 {
		return domain.Market{}, domain.ErrNotFound
	}

	m := domain.Market{
		MarketID:       domain.FormatMarketID(gotID),
		Question:       question,
		CreatedAt:      saturatingInt64(createdAt),
		ResolutionTime: saturatingInt64(resolution),
		Status:         domain.MarketStatus(status),
		Outcome:        domain.Outcome(outcome),
		YesLiquidity:   yes,
		NoLiquidity:    no,
		Resolver:       resolver.Hex(),
	}
	m.YesProbability = m.LocalProbability()
	m.ProbabilitySource = domain.ProbabilityLocal
	return m, nil
}
