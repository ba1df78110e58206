// Package agent runs the autonomous trading loop: read the mandate and the
// markets, evaluate the strategy, size and execute a trade, then sleep until
// the next check.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/executor"
	"github.com/alanyoungcy/mandatebot/internal/strategy"
	"github.com/alanyoungcy/mandatebot/internal/txbuilder"
)

// DefaultErrorBackoff is the wait after a failed or context-less cycle.
const DefaultErrorBackoff = 60 * time.Second

// State is the lifecycle state of a Loop.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// Audit events written per cycle.
const (
	EventNoSignal       = "agent.no_signal"
	EventMandateInvalid = "agent.mandate_invalid"
	EventTradeExecuted  = "agent.trade_executed"
	EventTradeFailed    = "agent.trade_failed"
	EventContextMissing = "agent.context_unavailable"
)

var (
	// ErrAlreadyRunning is returned by Run on a loop that is running.
	ErrAlreadyRunning = errors.New("agent: loop already running")

	errContextUnavailable = errors.New("agent: mandate or market context unavailable")
)

// MandateSource reads and classifies the agent's mandate; satisfied by
// *service.MandateService.
type MandateSource interface {
	GetMandate(ctx context.Context, account, agent common.Address) (domain.Mandate, bool)
	Validate(m domain.Mandate) error
}

// MarketSource reads market state; satisfied by *service.MarketService.
type MarketSource interface {
	ListMarkets(ctx context.Context, ids []string, includePremium bool) []domain.Market
}

// UsageReporter exposes the gated-data spend; satisfied by *x402.Client.
type UsageReporter interface {
	Summary() map[string]domain.UsageSummary
}

// Config identifies the agent and its delegation.
type Config struct {
	AgentID        int64
	Account        common.Address // delegating smart account
	Agent          common.Address // agent key address
	MarketIDs      []string
	IncludePremium bool
	MaxPosition    *big.Int // optional operator cap below the mandate
	ErrorBackoff   time.Duration
}

// Loop is a single agent's sequential decision loop.
type Loop struct {
	cfg      Config
	mandates MandateSource
	markets  MarketSource
	strategy strategy.Strategy
	builder  txbuilder.Builder
	exec     executor.Executor
	usage    UsageReporter     // may be nil
	audit    domain.AuditStore // may be nil
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	mu      sync.Mutex
	running bool
}

// New creates a stopped Loop. usage and audit may be nil.
func New(
	cfg Config,
	mandates MandateSource,
	markets MarketSource,
	strat strategy.Strategy,
	builder txbuilder.Builder,
	exec executor.Executor,
	usage UsageReporter,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Loop {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	return &Loop{
		cfg:      cfg,
		mandates: mandates,
		markets:  markets,
		strategy: strat,
		builder:  builder,
		exec:     exec,
		usage:    usage,
		audit:    audit,
		logger: logger.With(
			slog.String("component", "agent"),
			slog.Int64("agent_id", cfg.AgentID),
		),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// State reports whether the loop is running.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return StateRunning
	}
	return StateStopped
}

// Stop asks the loop to exit. The loop finishes its current sleep first.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.logger.Info("stop requested")
	}
	l.running = false
}

func (l *Loop) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Run drives cycles until Stop is called or ctx is cancelled. Cycle failures
// never end the loop; they are logged and followed by the error backoff.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "agent loop started",
		slog.String("account", l.cfg.Account.Hex()),
		slog.String("agent", l.cfg.Agent.Hex()),
		slog.String("strategy", l.strategy.Name()),
		slog.String("builder", l.builder.Variant()),
		slog.Int("markets", len(l.cfg.MarketIDs)),
	)
	defer func() {
		l.Stop()
		l.logger.Info("agent loop stopped")
	}()

	for l.isRunning() && ctx.Err() == nil {
		wait, err := l.Cycle(ctx)
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, errContextUnavailable) {
				level = slog.LevelWarn
			}
			l.logger.Log(ctx, level, "cycle failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", l.cfg.ErrorBackoff),
			)
			wait = l.cfg.ErrorBackoff
		}
		l.sleep(ctx, wait)
	}
	return nil
}

// Cycle performs one evaluation and returns how long to wait before the next
// one.
func (l *Loop) Cycle(ctx context.Context) (time.Duration, error) {
	mandate, ok := l.mandates.GetMandate(ctx, l.cfg.Account, l.cfg.Agent)
	if !ok {
		l.record(ctx, EventContextMissing, domain.Decision{Reasoning: "mandate unavailable"})
		return 0, errContextUnavailable
	}
	now := l.now()
	if err := l.mandates.Validate(mandate); err != nil {
		// Markets, and any premium data, are not read without a valid mandate.
		mandate.IsActive = false
		l.record(ctx, EventMandateInvalid, domain.Decision{Reasoning: err.Error()})
		result := l.strategy.Evaluate(mandate, nil, now)
		l.logUsage(ctx)
		return untilNext(result.NextCheckTime, now), nil
	}

	markets := l.markets.ListMarkets(ctx, l.cfg.MarketIDs, l.cfg.IncludePremium)
	if len(markets) == 0 && len(l.cfg.MarketIDs) > 0 {
		l.record(ctx, EventContextMissing, domain.Decision{Reasoning: "no market readable"})
		return 0, errContextUnavailable
	}

	result := l.strategy.Evaluate(mandate, markets, now)
	l.logUsage(ctx)

	if result.Signal == nil {
		l.record(ctx, EventNoSignal, domain.Decision{Reasoning: "no market crossed a threshold"})
		return untilNext(result.NextCheckTime, now), nil
	}

	if err := l.trade(ctx, *result.Signal, mandate); err != nil {
		return 0, err
	}
	return untilNext(result.NextCheckTime, now), nil
}

func (l *Loop) trade(ctx context.Context, sig domain.TradeSignal, mandate domain.Mandate) error {
	size := strategy.SizePosition(sig, mandate, l.cfg.MaxPosition, l.logger)
	d := domain.Decision{
		MarketID:   sig.MarketID,
		Direction:  sig.Direction,
		Confidence: sig.Confidence,
		Reasoning:  sig.Reasoning,
		Requested:  sig.SuggestedSize,
		Sized:      size,
	}
	if size.Sign() <= 0 {
		d.Error = "sized to zero"
		l.record(ctx, EventTradeFailed, d)
		return nil
	}

	payload, err := l.builder.Build(txbuilder.Trade{
		MarketID:  sig.MarketID,
		AgentID:   l.cfg.AgentID,
		Size:      size,
		Direction: sig.Direction,
	})
	if err != nil {
		return fmt.Errorf("agent: build trade: %w", err)
	}

	res := l.exec.Execute(ctx, payload)
	d.TxHash = res.TxHash
	if !res.Success {
		d.Error = res.Error
		l.record(ctx, EventTradeFailed, d)
		return nil
	}
	l.record(ctx, EventTradeExecuted, d)
	return nil
}

// record emits the decision log line and persists it when an audit store is
// configured.
func (l *Loop) record(ctx context.Context, event string, d domain.Decision) {
	d.AgentID = strconv.FormatInt(l.cfg.AgentID, 10)
	d.At = l.now().UTC()

	attrs := []slog.Attr{slog.String("event", event), slog.String("reasoning", d.Reasoning)}
	if d.MarketID != "" {
		attrs = append(attrs,
			slog.String("market_id", d.MarketID),
			slog.String("direction", string(d.Direction)),
			slog.Int("confidence", d.Confidence),
		)
	}
	if d.Sized != nil {
		attrs = append(attrs, slog.String("size", d.Sized.String()))
	}
	if d.TxHash != "" {
		attrs = append(attrs, slog.String("tx_hash", d.TxHash))
	}
	level := slog.LevelInfo
	if d.Error != "" {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", d.Error))
	}
	l.logger.LogAttrs(ctx, level, "decision", attrs...)

	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, d.Detail()); err != nil {
		l.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
}

// logUsage emits the gated-data spend summary. Without a reporter, or before
// any request, a zero summary for this agent is logged.
func (l *Loop) logUsage(ctx context.Context) {
	var summary map[string]domain.UsageSummary
	if l.usage != nil {
		summary = l.usage.Summary()
	}
	if len(summary) == 0 {
		summary = map[string]domain.UsageSummary{
			strconv.FormatInt(l.cfg.AgentID, 10): {TotalCost: decimal.Zero},
		}
	}
	for agent, s := range summary {
		l.logger.InfoContext(ctx, "gated data usage",
			slog.String("payer", agent),
			slog.Int("requests", s.Count),
			slog.String("total_cost", s.TotalCost.String()),
		)
	}
}

func untilNext(next, now time.Time) time.Duration {
	return max(next.Sub(now), 0)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
