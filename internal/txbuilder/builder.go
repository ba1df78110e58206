// Package txbuilder encodes trade intents into contract calls routed through
// the agent's delegated smart account.
package txbuilder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// Builder variants.
const (
	VariantMarket = "market"
	VariantPolicy = "policy"
)

const marketABIJSON = `[{
	"name": "placeTrade",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "marketId", "type": "bytes32"},
		{"name": "isYes", "type": "bool"},
		{"name": "amount", "type": "uint256"}
	],
	"outputs": []
}]`

const policyABIJSON = `[{
	"name": "executeTrade",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "agentId", "type": "uint256"},
		{"name": "marketId", "type": "bytes32"},
		{"name": "isYes", "type": "bool"},
		{"name": "amount", "type": "uint256"}
	],
	"outputs": []
}]`

var (
	marketABI = mustParseABI(marketABIJSON)
	policyABI = mustParseABI(policyABIJSON)
)

// Trade is the intent to encode.
type Trade struct {
	MarketID  string
	AgentID   int64
	Size      *big.Int
	Direction domain.Direction
}

// Builder turns a Trade into a call payload.
type Builder interface {
	Variant() string
	Build(t Trade) (domain.TxPayload, error)
}

// New returns the builder for variant. The market variant calls target
// directly; the policy variant routes through the delegation policy contract
// at target.
func New(variant string, target common.Address) (Builder, error) {
	if target == (common.Address{}) {
		return nil, fmt.Errorf("txbuilder: %s variant needs a target contract: %w", variant, domain.ErrInvalidConfig)
	}
	switch strings.ToLower(variant) {
	case VariantMarket:
		return MarketBuilder{Contract: target}, nil
	case VariantPolicy:
		return PolicyBuilder{Contract: target}, nil
	default:
		return nil, fmt.Errorf("txbuilder: unknown variant %q: %w", variant, domain.ErrInvalidConfig)
	}
}

// MarketBuilder encodes placeTrade(bytes32,bool,uint256) on the market
// contract.
type MarketBuilder struct {
	Contract common.Address
}

func (MarketBuilder) Variant() string { return VariantMarket }

func (b MarketBuilder) Build(t Trade) (domain.TxPayload, error) {
	id, err := checkTrade(t)
	if err != nil {
		return domain.TxPayload{}, err
	}
	data, err := marketABI.Pack("placeTrade", id, t.Direction.IsYes(), t.Size)
	if err != nil {
		return domain.TxPayload{}, fmt.Errorf("txbuilder: pack placeTrade: %w", err)
	}
	return domain.TxPayload{Target: b.Contract, Value: new(big.Int), Data: data, Variant: VariantMarket}, nil
}

// PolicyBuilder encodes executeTrade(uint256,bytes32,bool,uint256) on the
// delegation policy contract, which checks the mandate on-chain.
type PolicyBuilder struct {
	Contract common.Address
}

func (PolicyBuilder) Variant() string { return VariantPolicy }

func (b PolicyBuilder) Build(t Trade) (domain.TxPayload, error) {
	id, err := checkTrade(t)
	if err != nil {
		return domain.TxPayload{}, err
	}
	if t.AgentID < 0 {
		return domain.TxPayload{}, fmt.Errorf("txbuilder: negative agent id %d", t.AgentID)
	}
	data, err := policyABI.Pack("executeTrade", big.NewInt(t.AgentID), id, t.Direction.IsYes(), t.Size)
	if err != nil {
		return domain.TxPayload{}, fmt.Errorf("txbuilder: pack executeTrade: %w", err)
	}
	return domain.TxPayload{Target: b.Contract, Value: new(big.Int), Data: data, Variant: VariantPolicy}, nil
}

func checkTrade(t Trade) ([32]byte, error) {
	id, err := domain.ParseMarketID(t.MarketID)
	if err != nil {
		return id, fmt.Errorf("txbuilder: %w", err)
	}
	if t.Size == nil || t.Size.Sign() <= 0 {
		return id, fmt.Errorf("txbuilder: trade size must be positive")
	}
	if t.Direction != domain.DirectionYes && t.Direction != domain.DirectionNo {
		return id, fmt.Errorf("txbuilder: unknown direction %q", t.Direction)
	}
	return id, nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("txbuilder: parse abi: %v", err))
	}
	return parsed
}

var (
	_ Builder = MarketBuilder{}
	_ Builder = PolicyBuilder{}
)
