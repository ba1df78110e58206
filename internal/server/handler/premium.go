package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/gateway"
	"github.com/alanyoungcy/mandatebot/internal/platform/x402"
)

// SignalSource produces premium probabilities; satisfied by *gateway.Signals.
type SignalSource interface {
	Probability(ctx context.Context, marketID string) (int, string, error)
}

// PremiumHandler serves paid market data behind the payment wall.
type PremiumHandler struct {
	gw      *gateway.Gateway
	signals SignalSource
	logger  *slog.Logger
}

// NewPremiumHandler creates a PremiumHandler.
func NewPremiumHandler(gw *gateway.Gateway, signals SignalSource, logger *slog.Logger) *PremiumHandler {
	return &PremiumHandler{gw: gw, signals: signals, logger: logHandler(logger, "premium")}
}

// Paywall wraps next so it is only reached with a valid payment proof.
// Requests without an x402 proof receive a fresh challenge and 402. Requests
// with a proof are settled; failures get 403 and a failed usage entry.
func (h *PremiumHandler) Paywall(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		endpoint := r.URL.Path
		auth := r.Header.Get(x402.ProofHeader)

		if !x402.HasScheme(auth) {
			c, err := h.gw.IssueChallenge(ctx, endpoint)
			if err != nil {
				h.logger.ErrorContext(ctx, "issue challenge failed", slog.String("error", err.Error()))
				writeError(w, http.StatusInternalServerError, "could not issue payment challenge")
				return
			}
			header, err := x402.EncodeChallenge(c)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "could not encode payment challenge")
				return
			}
			w.Header().Set(x402.ChallengeHeader, header)
			writeError(w, http.StatusPaymentRequired, "payment required")
			return
		}

		proof, err := h.gw.Settle(ctx, auth)
		if err != nil {
			h.gw.Record(ctx, endpoint, proof, err)
			h.logger.WarnContext(ctx, "proof rejected",
				slog.String("endpoint", endpoint),
				slog.String("agent_id", proof.AgentID),
				slog.String("nonce", proof.Nonce),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusForbidden, err.Error())
			return
		}

		w.Header().Set(x402.CostHeader, proof.Amount.String())
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		var failure error
		if rec.status >= http.StatusBadRequest {
			failure = errors.New(http.StatusText(rec.status))
		}
		h.gw.Record(ctx, endpoint, proof, failure)
	})
}

// GetProbability returns the premium YES probability of a market.
// GET /api/premium/markets/{id}/probability
func (h *PremiumHandler) GetProbability(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	p, source, err := h.signals.Probability(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "probability lookup failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "probability unavailable")
		return
	}
	writeJSON(w, http.StatusOK, x402.ProbabilityPayload{
		MarketID:    id,
		Probability: p,
		Source:      source,
		GeneratedAt: time.Now().UTC(),
	})
}
