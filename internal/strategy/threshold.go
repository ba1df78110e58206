package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

const (
	defaultUpperThreshold = 60
	defaultLowerThreshold = 40
	defaultInactiveDelay  = 60 * time.Second
	defaultNoSignalDelay  = 300 * time.Second

	// minMultiplier100 is the floor of the confidence multiplier, in hundredths.
	minMultiplier100 = 50
)

// ThresholdConfig parameterises the threshold rule. Zero values take the
// defaults.
type ThresholdConfig struct {
	Upper         int
	Lower         int
	InactiveDelay time.Duration
	NoSignalDelay time.Duration
}

// Threshold signals YES above the upper probability threshold and NO below
// the lower one. Markets are evaluated in the order supplied and the first
// qualifying market wins.
type Threshold struct {
	cfg    ThresholdConfig
	logger *slog.Logger
}

// NewThreshold creates a Threshold strategy.
func NewThreshold(cfg ThresholdConfig, logger *slog.Logger) *Threshold {
	if cfg.Upper == 0 {
		cfg.Upper = defaultUpperThreshold
	}
	if cfg.Lower == 0 {
		cfg.Lower = defaultLowerThreshold
	}
	if cfg.InactiveDelay <= 0 {
		cfg.InactiveDelay = defaultInactiveDelay
	}
	if cfg.NoSignalDelay <= 0 {
		cfg.NoSignalDelay = defaultNoSignalDelay
	}
	return &Threshold{
		cfg:    cfg,
		logger: logger.With(slog.String("strategy", "threshold")),
	}
}

// Name returns the strategy identifier.
func (t *Threshold) Name() string { return "threshold" }

// Evaluate applies the threshold rule. Markets outside a non-empty allow-list
// are skipped. When a signal is produced the next check is scheduled
// mandate.ExpiryTime seconds after now: the absolute expiry is used as an
// offset, so in practice the agent does not wake again before it is stopped.
func (t *Threshold) Evaluate(mandate domain.Mandate, markets []domain.Market, now time.Time) domain.StrategyResult {
	if !mandate.IsActive {
		return domain.StrategyResult{NextCheckTime: now.Add(t.cfg.InactiveDelay)}
	}

	for _, m := range markets {
		if m.Status != domain.MarketStatusOpen {
			continue
		}
		if len(mandate.AllowedMarkets) > 0 && !mandate.AllowsMarket(m.MarketID) {
			t.logger.Debug("market outside mandate", slog.String("market_id", m.MarketID))
			continue
		}

		p := m.YesProbability
		var sig *domain.TradeSignal
		switch {
		case p > t.cfg.Upper:
			sig = &domain.TradeSignal{
				MarketID:   m.MarketID,
				Direction:  domain.DirectionYes,
				Confidence: p,
				Reasoning:  fmt.Sprintf("YES probability %d%% above %d%% (%s)", p, t.cfg.Upper, m.ProbabilitySource),
			}
		case p < t.cfg.Lower:
			sig = &domain.TradeSignal{
				MarketID:   m.MarketID,
				Direction:  domain.DirectionNo,
				Confidence: 100 - p,
				Reasoning:  fmt.Sprintf("YES probability %d%% below %d%% (%s)", p, t.cfg.Lower, m.ProbabilitySource),
			}
		default:
			continue
		}

		sig.SuggestedSize = SuggestedSize(sig.Confidence, mandate.MaxSize())
		return domain.StrategyResult{
			Signal:        sig,
			NextCheckTime: now.Add(expiryOffset(mandate.ExpiryTime)),
		}
	}

	return domain.StrategyResult{NextCheckTime: now.Add(t.cfg.NoSignalDelay)}
}

// expiryOffset converts ExpiryTime seconds to a Duration, saturating instead of
// wrapping for expiries beyond the Duration range.
func expiryOffset(seconds int64) time.Duration {
	switch {
	case seconds > math.MaxInt64/int64(time.Second):
		return math.MaxInt64
	case seconds < 0:
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// SuggestedSize scales maxSize by max(0.5, (confidence-50)/30), with the
// multiplier truncated to hundredths and computed in integers.
func SuggestedSize(confidence int, maxSize *big.Int) *big.Int {
	m100 := max((confidence-50)*100/30, minMultiplier100)

	out := new(big.Int).Mul(maxSize, big.NewInt(int64(m100)))
	return out.Quo(out, big.NewInt(100))
}

var _ Strategy = (*Threshold)(nil)
