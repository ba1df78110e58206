package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// SettlementStream is the event stream executions are published to.
const SettlementStream = "agent:settlements"

// Notification event types.
const (
	EventTradeExecuted = "trade_executed"
	EventTradeFailed   = "trade_failed"
)

// Notifier delivers operator alerts; satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Settlement is the event published for every execution attempt.
type Settlement struct {
	AgentID string    `json:"agent_id"`
	Variant string    `json:"variant"`
	Target  string    `json:"target"`
	Data    string    `json:"data"`
	Success bool      `json:"success"`
	TxHash  string    `json:"tx_hash,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Reporting wraps an Executor and publishes each outcome to the settlement
// stream and the notifier. Either sink may be nil. Reporting failures are
// logged and never change the result.
type Reporting struct {
	inner    Executor
	agentID  string
	bus      domain.EventBus
	notifier Notifier
	logger   *slog.Logger
}

// NewReporting creates a Reporting executor around inner.
func NewReporting(inner Executor, agentID string, bus domain.EventBus, notifier Notifier, logger *slog.Logger) *Reporting {
	return &Reporting{
		inner:    inner,
		agentID:  agentID,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "settlement_reporter")),
	}
}

func (r *Reporting) Execute(ctx context.Context, payload domain.TxPayload) domain.ExecutionResult {
	res := r.inner.Execute(ctx, payload)

	s := Settlement{
		AgentID: r.agentID,
		Variant: payload.Variant,
		Target:  payload.Target.Hex(),
		Data:    common.Bytes2Hex(payload.Data),
		Success: res.Success,
		TxHash:  res.TxHash,
		Error:   res.Error,
		At:      time.Now().UTC(),
	}

	if r.bus != nil {
		if raw, err := json.Marshal(s); err == nil {
			if err := r.bus.StreamAppend(ctx, SettlementStream, raw); err != nil {
				r.logger.WarnContext(ctx, "settlement publish failed", slog.String("error", err.Error()))
			}
		}
	}

	if r.notifier != nil {
		event, title := EventTradeExecuted, "Trade executed"
		msg := fmt.Sprintf("agent %s via %s: tx %s", r.agentID, payload.Variant, res.TxHash)
		if !res.Success {
			event, title = EventTradeFailed, "Trade failed"
			msg = fmt.Sprintf("agent %s via %s: %s", r.agentID, payload.Variant, res.Error)
		}
		if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
			r.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
	return res
}

var _ Executor = (*Reporting)(nil)
