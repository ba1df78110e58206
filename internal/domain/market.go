package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// MarketStatus mirrors the uint8 status enum of the market registry.
type MarketStatus uint8

const (
	MarketStatusOpen MarketStatus = iota
	MarketStatusResolved
	MarketStatusSettled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusOpen:
		return "OPEN"
	case MarketStatusResolved:
		return "RESOLVED"
	case MarketStatusSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

// Outcome mirrors the uint8 outcome enum of the market registry.
type Outcome uint8

const (
	OutcomeUnresolved Outcome = iota
	OutcomeYes
	OutcomeNo
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnresolved:
		return "UNRESOLVED"
	case OutcomeYes:
		return "YES"
	case OutcomeNo:
		return "NO"
	default:
		return "UNKNOWN"
	}
}

// Probability sources recorded on Market.ProbabilitySource.
const (
	ProbabilityLocal   = "local"
	ProbabilityPremium = "premium"
)

// Market is a binary prediction market as read from the market registry,
// enriched with the probability estimate used for this cycle.
type Market struct {
	MarketID       string // 0x-prefixed bytes32
	Question       string
	CreatedAt      int64
	ResolutionTime int64
	Status         MarketStatus
	Outcome        Outcome
	YesLiquidity   *big.Int
	NoLiquidity    *big.Int
	Resolver       string

	YesProbability    int // 0-100
	ProbabilitySource string
}

// EstimateYesProbability returns round(100 * yes / (yes + no)) with half-up
// rounding. It is 50 when both pools are empty.
func EstimateYesProbability(yes, no *big.Int) int {
	y := orZero(yes)
	n := orZero(no)
	total := new(big.Int).Add(y, n)
	if total.Sign() == 0 {
		return 50
	}
	// (200*yes + total) / (2*total) == floor(100*yes/total + 0.5)
	num := new(big.Int).Mul(y, big.NewInt(200))
	num.Add(num, total)
	den := new(big.Int).Mul(total, big.NewInt(2))
	return int(new(big.Int).Quo(num, den).Int64())
}

// LocalProbability is the liquidity-ratio estimate for the market.
func (m Market) LocalProbability() int {
	return EstimateYesProbability(m.YesLiquidity, m.NoLiquidity)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// ParseMarketID decodes a 0x-prefixed bytes32 market identifier.
func ParseMarketID(id string) ([32]byte, error) {
	var out [32]byte
	h, ok := strings.CutPrefix(strings.ToLower(id), "0x")
	if !ok || len(h) != 64 {
		return out, fmt.Errorf("market id %q: want 0x-prefixed 32-byte hex", id)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return out, fmt.Errorf("market id %q: %w", id, err)
	}
	copy(out[:], b)
	return out, nil
}

// FormatMarketID renders a bytes32 market identifier as lower-case 0x hex.
func FormatMarketID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
