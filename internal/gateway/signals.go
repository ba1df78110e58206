package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// Probability sources reported in premium payloads.
const (
	SourceOverride = "override"
	SourceRegistry = "registry"
)

// MarketReader reads market state; satisfied by chain.MarketRegistry.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
}

// Signals produces the premium YES probability for a market. Operator
// overrides win over the registry's liquidity estimate.
type Signals struct {
	registry  MarketReader
	overrides map[string]int
}

// NewSignals creates a signal source. registry may be nil, in which case only
// overridden markets are served.
func NewSignals(registry MarketReader, overrides map[string]int) *Signals {
	norm := make(map[string]int, len(overrides))
	for id, p := range overrides {
		norm[strings.ToLower(id)] = p
	}
	return &Signals{registry: registry, overrides: norm}
}

// Probability returns the estimate for marketID and where it came from.
func (s *Signals) Probability(ctx context.Context, marketID string) (int, string, error) {
	if p, ok := s.overrides[strings.ToLower(marketID)]; ok {
		return p, SourceOverride, nil
	}
	if s.registry == nil {
		return 0, "", fmt.Errorf("gateway: market %s: %w", marketID, domain.ErrNotFound)
	}
	m, err := s.registry.GetMarket(ctx, marketID)
	if err != nil {
		return 0, "", fmt.Errorf("gateway: market %s: %w", marketID, err)
	}
	return m.LocalProbability(), SourceRegistry, nil
}
