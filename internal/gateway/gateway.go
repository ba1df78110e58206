// Package gateway is the server side of the gated-data payment protocol. It
// issues single-use challenges, validates proofs against them and keeps the
// usage ledger.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/platform/x402"
)

// DefaultChallengeTTL is the lifetime of an issued challenge.
const DefaultChallengeTTL = 5 * time.Minute

// Config holds the pricing terms quoted in every challenge.
type Config struct {
	Price          decimal.Decimal
	Token          string
	PaymentAddress string
	MinimumChainID *int64
	ChallengeTTL   time.Duration
}

// Gateway issues challenges and settles proofs.
type Gateway struct {
	cfg        Config
	challenges domain.ChallengeStore
	usage      domain.UsageStore
	provider   PaymentProvider
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Gateway. metrics may be nil.
func New(
	cfg Config,
	challenges domain.ChallengeStore,
	usage domain.UsageStore,
	provider PaymentProvider,
	metrics *Metrics,
	logger *slog.Logger,
) *Gateway {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	return &Gateway{
		cfg:        cfg,
		challenges: challenges,
		usage:      usage,
		provider:   provider,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "gateway")),
		now:        time.Now,
	}
}

// Price returns the amount charged per request.
func (g *Gateway) Price() decimal.Decimal {
	return g.cfg.Price
}

// IssueChallenge creates and stores a fresh challenge for endpoint.
func (g *Gateway) IssueChallenge(ctx context.Context, endpoint string) (domain.PaymentChallenge, error) {
	nonce, err := newNonce()
	if err != nil {
		return domain.PaymentChallenge{}, err
	}
	c := domain.PaymentChallenge{
		PaymentAddress: g.cfg.PaymentAddress,
		Amount:         g.cfg.Price,
		Token:          g.cfg.Token,
		Nonce:          nonce,
		ExpiresAt:      g.now().Add(g.cfg.ChallengeTTL).Unix(),
		MinimumChainID: g.cfg.MinimumChainID,
	}
	if err := g.challenges.Put(ctx, c); err != nil {
		return domain.PaymentChallenge{}, fmt.Errorf("gateway: store challenge: %w", err)
	}

	if g.metrics != nil {
		g.metrics.ChallengesIssued.WithLabelValues(endpoint).Inc()
	}
	g.logger.InfoContext(ctx, "challenge issued",
		slog.String("endpoint", endpoint),
		slog.String("nonce", nonce),
		slog.String("amount", c.Amount.String()),
		slog.Int64("expires_at", c.ExpiresAt),
	)
	return c, nil
}

// Settle validates the proof carried in an Authorization header. The
// referenced challenge is consumed before any other check, so a proof can be
// presented at most once whatever the outcome. On error the returned proof
// holds whatever could be parsed, for the failure log.
func (g *Gateway) Settle(ctx context.Context, header string) (domain.PaymentProof, error) {
	start := time.Now()
	proof, err := g.settle(ctx, header)
	if g.metrics != nil {
		g.metrics.VerifyDuration.Observe(time.Since(start).Seconds())
		g.metrics.ProofsVerified.WithLabelValues(proofResult(err)).Inc()
		if err == nil {
			g.metrics.Revenue.WithLabelValues(g.cfg.Token).Add(proof.Amount.InexactFloat64())
		}
	}
	return proof, err
}

func (g *Gateway) settle(ctx context.Context, header string) (domain.PaymentProof, error) {
	proof, err := x402.ParseProof(header)
	if err != nil {
		return proof, err
	}

	c, err := g.challenges.Consume(ctx, proof.Nonce)
	if errors.Is(err, domain.ErrNotFound) {
		return proof, fmt.Errorf("gateway: nonce %s: %w", proof.Nonce, domain.ErrUnknownChallenge)
	}
	if err != nil {
		return proof, fmt.Errorf("gateway: consume challenge: %w", err)
	}
	if c.Expired(g.now()) {
		return proof, fmt.Errorf("gateway: nonce %s expired at %d: %w", proof.Nonce, c.ExpiresAt, domain.ErrChallengeExpired)
	}
	if !proof.Amount.Equal(c.Amount) {
		return proof, fmt.Errorf("gateway: paid %s, challenge asked %s: %w",
			proof.Amount.String(), c.Amount.String(), domain.ErrAmountMismatch)
	}
	if !strings.EqualFold(proof.PaymentAddress, c.PaymentAddress) {
		return proof, fmt.Errorf("gateway: paid to %s, challenge asked %s: %w",
			proof.PaymentAddress, c.PaymentAddress, domain.ErrPaymentRejected)
	}
	if err := g.provider.VerifyPayment(ctx, proof); err != nil {
		return proof, err
	}
	return proof, nil
}

// Record appends one usage entry for a proof attempt.
func (g *Gateway) Record(ctx context.Context, endpoint string, proof domain.PaymentProof, failure error) {
	entry := domain.DataUsageLog{
		ID:         uuid.NewString(),
		AgentID:    proof.AgentID,
		Endpoint:   endpoint,
		AmountPaid: proof.Amount,
		Timestamp:  g.now().UTC(),
		Success:    failure == nil,
	}
	if failure != nil {
		entry.ErrorMessage = failure.Error()
	}
	if err := g.usage.Append(ctx, entry); err != nil {
		g.logger.ErrorContext(ctx, "usage append failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
	}
}

// Logs returns the ledger, optionally filtered by agent, and its per-agent
// summary.
func (g *Gateway) Logs(ctx context.Context, agentID string) ([]domain.DataUsageLog, map[string]domain.UsageSummary, error) {
	logs, err := g.usage.List(ctx, agentID)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: list usage: %w", err)
	}
	return logs, domain.Summarize(logs), nil
}

// Sweeper is implemented by challenge stores that need explicit eviction.
type Sweeper interface {
	Sweep(now time.Time) int
}

// RunSweeper evicts expired challenges every interval until ctx is done. It is
// a no-op for stores that expire entries themselves.
func (g *Gateway) RunSweeper(ctx context.Context, interval time.Duration) error {
	s, ok := g.challenges.(Sweeper)
	if !ok {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(g.now()); n > 0 {
				g.logger.DebugContext(ctx, "expired challenges evicted", slog.Int("count", n))
			}
		}
	}
}

func newNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("gateway: nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func proofResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrUnknownChallenge):
		return "unknown"
	case errors.Is(err, domain.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrProtocol):
		return "malformed"
	default:
		return "rejected"
	}
}
