package domain

import (
	"math/big"
	"time"
)

// Direction is the side of a binary market a trade takes.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// IsYes reports whether the direction buys YES shares.
func (d Direction) IsYes() bool {
	return d == DirectionYes
}

// TradeSignal is the strategy engine's recommendation. SuggestedSize is
// computed before the mandate clamp is applied.
type TradeSignal struct {
	MarketID      string
	Direction     Direction
	Confidence    int // 0-100
	Reasoning     string
	SuggestedSize *big.Int
}

// StrategyResult is the output of one strategy evaluation: an optional signal
// and the time the agent should evaluate again.
type StrategyResult struct {
	Signal        *TradeSignal
	NextCheckTime time.Time
}

// Decision is the per-cycle audit record written by the agent loop.
type Decision struct {
	AgentID    string
	MarketID   string
	Direction  Direction
	Confidence int
	Reasoning  string
	Requested  *big.Int
	Sized      *big.Int
	TxHash     string
	Error      string
	At         time.Time
}

// Detail flattens the decision for the audit store.
func (d Decision) Detail() map[string]any {
	detail := map[string]any{
		"agent_id":   d.AgentID,
		"market_id":  d.MarketID,
		"direction":  string(d.Direction),
		"confidence": d.Confidence,
		"reasoning":  d.Reasoning,
		"at":         d.At.UTC().Format(time.RFC3339),
	}
	if d.Requested != nil {
		detail["requested_size"] = d.Requested.String()
	}
	if d.Sized != nil {
		detail["sized"] = d.Sized.String()
	}
	if d.TxHash != "" {
		detail["tx_hash"] = d.TxHash
	}
	if d.Error != "" {
		detail["error"] = d.Error
	}
	return detail
}
