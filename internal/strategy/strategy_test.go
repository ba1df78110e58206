package strategy

import (
	"log/slog"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

var now = time.Unix(1_700_000_000, 0)

func activeMandate(limit int64, markets ...string) domain.Mandate {
	return domain.Mandate{
		IsActive:       true,
		MaxTradeSize:   big.NewInt(limit),
		ExpiryTime:     now.Unix() + 3600,
		AllowedMarkets: markets,
	}
}

func market(id string, p int, status domain.MarketStatus) domain.Market {
	return domain.Market{MarketID: id, Status: status, YesProbability: p, ProbabilitySource: domain.ProbabilityLocal}
}

func TestThreshold_InactiveMandate(t *testing.T) {
	s := NewThreshold(ThresholdConfig{}, testLogger)
	m := activeMandate(100)
	m.IsActive = false

	res := s.Evaluate(m, []domain.Market{market("a", 90, domain.MarketStatusOpen)}, now)
	assert.Nil(t, res.Signal)
	assert.Equal(t, now.Add(60*time.Second), res.NextCheckTime)
}

func TestThreshold_Directions(t *testing.T) {
	tests := []struct {
		p          int
		want       domain.Direction
		confidence int
		signal     bool
	}{
		{p: 61, want: domain.DirectionYes, confidence: 61, signal: true},
		{p: 100, want: domain.DirectionYes, confidence: 100, signal: true},
		{p: 39, want: domain.DirectionNo, confidence: 61, signal: true},
		{p: 0, want: domain.DirectionNo, confidence: 100, signal: true},
		{p: 60},
		{p: 40},
		{p: 50},
	}
	s := NewThreshold(ThresholdConfig{}, testLogger)
	for _, tt := range tests {
		res := s.Evaluate(activeMandate(100), []domain.Market{market("a", tt.p, domain.MarketStatusOpen)}, now)
		if !tt.signal {
			assert.Nil(t, res.Signal, "p=%d", tt.p)
			assert.Equal(t, now.Add(300*time.Second), res.NextCheckTime)
			continue
		}
		require.NotNil(t, res.Signal, "p=%d", tt.p)
		assert.Equal(t, tt.want, res.Signal.Direction)
		assert.Equal(t, tt.confidence, res.Signal.Confidence)
		assert.Greater(t, res.Signal.Confidence, 60, "confidence never falls between the thresholds")
	}
}

func TestThreshold_FirstQualifyingOpenMarketWins(t *testing.T) {
	s := NewThreshold(ThresholdConfig{}, testLogger)
	markets := []domain.Market{
		market("resolved", 95, domain.MarketStatusResolved),
		market("flat", 50, domain.MarketStatusOpen),
		market("no", 20, domain.MarketStatusOpen),
		market("yes", 90, domain.MarketStatusOpen),
	}
	m := activeMandate(100)
	res := s.Evaluate(m, markets, now)
	require.NotNil(t, res.Signal)
	assert.Equal(t, "no", res.Signal.MarketID)
	assert.Equal(t, now.Add(time.Duration(m.ExpiryTime)*time.Second), res.NextCheckTime)
}

func TestThreshold_SkipsMarketsOutsideMandate(t *testing.T) {
	s := NewThreshold(ThresholdConfig{}, testLogger)
	markets := []domain.Market{
		market("0xAA", 90, domain.MarketStatusOpen),
		market("0xbb", 90, domain.MarketStatusOpen),
	}
	res := s.Evaluate(activeMandate(100, "0xBB"), markets, now)
	require.NotNil(t, res.Signal)
	assert.Equal(t, "0xbb", res.Signal.MarketID)
}

func TestThreshold_CustomDelays(t *testing.T) {
	s := NewThreshold(ThresholdConfig{NoSignalDelay: 10 * time.Second}, testLogger)
	res := s.Evaluate(activeMandate(100), nil, now)
	assert.Equal(t, now.Add(10*time.Second), res.NextCheckTime)
}

func TestThreshold_FarFutureExpiryNeverWraps(t *testing.T) {
	s := NewThreshold(ThresholdConfig{}, testLogger)
	for _, expiry := range []int64{10_000_000_000, math.MaxInt64} {
		m := activeMandate(100)
		m.ExpiryTime = expiry

		res := s.Evaluate(m, []domain.Market{market("a", 90, domain.MarketStatusOpen)}, now)
		require.NotNil(t, res.Signal)
		assert.True(t, res.NextCheckTime.After(now), "expiry %d", expiry)
	}
}

func TestSuggestedSize(t *testing.T) {
	tests := []struct {
		confidence int
		want       int64
	}{
		{confidence: 61, want: 500},  // (11*100/30)=36 -> floor 50
		{confidence: 65, want: 500},  // exactly 0.5
		{confidence: 70, want: 660},  // 0.66
		{confidence: 80, want: 1000}, // 1.0
		{confidence: 100, want: 1660},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SuggestedSize(tt.confidence, big.NewInt(1000)).Int64(), "confidence=%d", tt.confidence)
	}
}

func TestSizePosition_NeverExceedsMandate(t *testing.T) {
	m := activeMandate(100)
	for _, suggested := range []int64{0, 50, 100, 166, 1_000_000} {
		sig := domain.TradeSignal{SuggestedSize: big.NewInt(suggested)}
		got := SizePosition(sig, m, nil, testLogger)
		assert.LessOrEqual(t, got.Cmp(m.MaxTradeSize), 0, "suggested=%d", suggested)
		assert.Equal(t, min(suggested, 100), got.Int64())
	}
}

func TestSizePosition_OperatorCap(t *testing.T) {
	m := activeMandate(100)
	sig := domain.TradeSignal{SuggestedSize: big.NewInt(166)}

	assert.Equal(t, int64(40), SizePosition(sig, m, big.NewInt(40), testLogger).Int64())
	assert.Equal(t, int64(100), SizePosition(sig, m, big.NewInt(500), testLogger).Int64(), "cap above mandate is ignored")
}

func TestSizePosition_DoesNotAliasSignal(t *testing.T) {
	sig := domain.TradeSignal{SuggestedSize: big.NewInt(10)}
	got := SizePosition(sig, activeMandate(100), nil, testLogger)
	got.SetInt64(99)
	assert.Equal(t, int64(10), sig.SuggestedSize.Int64())
}
