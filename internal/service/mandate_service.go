package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// MandateReader reads a mandate from the authorization registry.
type MandateReader interface {
	GetMandate(ctx context.Context, account, agent common.Address) (domain.Mandate, error)
}

// MandateService is the agent's view of its delegation. It keeps no state
// between reads.
type MandateService struct {
	registry MandateReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewMandateService creates a MandateService backed by registry.
func NewMandateService(registry MandateReader, logger *slog.Logger) *MandateService {
	return &MandateService{
		registry: registry,
		logger:   logger.With(slog.String("component", "mandate_service")),
		now:      time.Now,
	}
}

// GetMandate returns the mandate account granted to agent. Registry failures
// are logged and reported as not found so the caller can retry later.
func (s *MandateService) GetMandate(ctx context.Context, account, agent common.Address) (domain.Mandate, bool) {
	m, err := s.registry.GetMandate(ctx, account, agent)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.InfoContext(ctx, "no mandate registered",
				slog.String("account", account.Hex()),
				slog.String("agent", agent.Hex()),
			)
		} else {
			s.logger.WarnContext(ctx, "mandate read failed",
				slog.String("account", account.Hex()),
				slog.String("agent", agent.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return domain.Mandate{}, false
	}
	return m, true
}

// IsExpired reports whether the mandate's expiry time is in the past.
func (s *MandateService) IsExpired(m domain.Mandate) bool {
	return m.Expired(s.now())
}

// IsMarketAllowed compares marketID against the mandate's allow-list,
// ignoring case.
func (s *MandateService) IsMarketAllowed(m domain.Mandate, marketID string) bool {
	return m.AllowsMarket(marketID)
}

// Validate classifies a mandate that cannot authorize trades.
func (s *MandateService) Validate(m domain.Mandate) error {
	switch {
	case !m.IsActive:
		return domain.ErrMandateInactive
	case s.IsExpired(m):
		return domain.ErrMandateExpired
	default:
		return nil
	}
}
