package strategy

import (
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// SizePosition clamps the signal's suggested size to the mandate limit and,
// when operatorCap is set, to an operator cap below it. Both the requested
// and the final size are logged.
func SizePosition(signal domain.TradeSignal, mandate domain.Mandate, operatorCap *big.Int, logger *slog.Logger) *big.Int {
	requested := signal.SuggestedSize
	if requested == nil {
		requested = new(big.Int)
	}

	limit := mandate.MaxSize()
	if operatorCap != nil && operatorCap.Sign() > 0 && operatorCap.Cmp(limit) < 0 {
		limit = operatorCap
	}

	size := new(big.Int).Set(requested)
	if size.Cmp(limit) > 0 {
		size.Set(limit)
	}

	logger.Info("position sized",
		slog.String("market_id", signal.MarketID),
		slog.String("requested", requested.String()),
		slog.String("final", size.String()),
		slog.String("mandate_max", mandate.MaxSize().String()),
	)
	return size
}
