// Package strategy turns market state under a mandate into trade signals and
// bounded trade sizes. Everything here is pure apart from logging.
package strategy

import (
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// Strategy evaluates a snapshot of markets against the agent's mandate.
type Strategy interface {
	Name() string
	Evaluate(mandate domain.Mandate, markets []domain.Market, now time.Time) domain.StrategyResult
}
