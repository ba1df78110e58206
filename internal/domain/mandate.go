package domain

import (
	"math/big"
	"strings"
	"time"
)

// Mandate is a delegated, time-boxed spending authorization from a principal
// account to an agent, as recorded in the authorization registry.
type Mandate struct {
	Agent          string
	MaxTradeSize   *big.Int // smallest unit
	AllowedMarkets []string
	ExpiryTime     int64 // unix seconds
	IsActive       bool
	CreatedAt      int64
}

// Expired reports whether the mandate's expiry time lies strictly before now.
// An expired mandate is invalid even if the registry still flags it active.
func (m Mandate) Expired(now time.Time) bool {
	return m.ExpiryTime < now.Unix()
}

// AllowsMarket compares marketID against the allow-list, ignoring case.
func (m Mandate) AllowsMarket(marketID string) bool {
	for _, id := range m.AllowedMarkets {
		if strings.EqualFold(id, marketID) {
			return true
		}
	}
	return false
}

// MaxSize returns MaxTradeSize, treating nil as zero.
func (m Mandate) MaxSize() *big.Int {
	if m.MaxTradeSize == nil {
		return new(big.Int)
	}
	return m.MaxTradeSize
}
