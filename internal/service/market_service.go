package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// MarketReader reads a single market from the market registry.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
}

// ProbabilitySource supplies a premium YES probability for a market.
type ProbabilitySource interface {
	FetchProbability(ctx context.Context, marketID string) (int, error)
}

// MarketService reads market state and optionally enriches it with a premium
// probability estimate.
type MarketService struct {
	registry MarketReader
	premium  ProbabilitySource
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. premium may be nil, in which case
// every read uses the local liquidity estimate.
func NewMarketService(registry MarketReader, premium ProbabilitySource, logger *slog.Logger) *MarketService {
	return &MarketService{
		registry: registry,
		premium:  premium,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket reads one market. When includePremium is set the premium estimate
// replaces the local one; any failure of the premium call falls back to the
// local estimate instead of failing the read.
func (s *MarketService) GetMarket(ctx context.Context, marketID string, includePremium bool) (domain.Market, bool) {
	m, err := s.registry.GetMarket(ctx, marketID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market read failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		return domain.Market{}, false
	}

	m.YesProbability = m.LocalProbability()
	m.ProbabilitySource = domain.ProbabilityLocal

	if !includePremium || s.premium == nil {
		return m, true
	}

	p, err := s.premium.FetchProbability(ctx, marketID)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "premium probability unavailable, using local estimate",
			slog.String("market_id", marketID),
			slog.Int("local", m.YesProbability),
			slog.String("error", err.Error()),
		)
	case p < 0 || p > 100:
		s.logger.WarnContext(ctx, "premium probability out of range, using local estimate",
			slog.String("market_id", marketID),
			slog.Int("premium", p),
		)
	default:
		m.YesProbability = p
		m.ProbabilitySource = domain.ProbabilityPremium
	}
	return m, true
}

// ListMarkets reads every id in order, skipping markets that cannot be read.
func (s *MarketService) ListMarkets(ctx context.Context, ids []string, includePremium bool) []domain.Market {
	out := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.GetMarket(ctx, id, includePremium); ok {
			out = append(out, m)
		}
	}
	return out
}
