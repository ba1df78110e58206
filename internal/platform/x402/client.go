package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// DefaultTimeout bounds each HTTP exchange when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Response is the result of a gated request.
type Response struct {
	StatusCode int
	Body       []byte
	Cost       decimal.Decimal
	Paid       bool
}

// ClientConfig parameterises a Client.
type ClientConfig struct {
	BaseURL string
	AgentID string
	Timeout time.Duration
}

// Client performs the challenge/proof exchange against a gated-data provider
// and keeps an audit trail of every request it makes.
type Client struct {
	http    *resty.Client
	method  PaymentMethod
	agentID string
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	usage []domain.DataUsageLog
}

// NewClient creates a Client paying with method.
func NewClient(cfg ClientConfig, method PaymentMethod, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		method:  method,
		agentID: cfg.AgentID,
		logger: logger.With(
			slog.String("component", "x402_client"),
			slog.String("payment_method", method.Kind().String()),
		),
		now: time.Now,
	}
}

// Get fetches endpoint, paying for it if the provider demands payment. The
// unpaid request is sent first; a challenge is answered with exactly one
// paid retry. Exactly one usage entry is recorded per call.
func (c *Client) Get(ctx context.Context, endpoint string) (*Response, error) {
	entry := domain.DataUsageLog{
		ID:         uuid.NewString(),
		AgentID:    c.agentID,
		Endpoint:   endpoint,
		AmountPaid: decimal.Zero,
		Timestamp:  c.now().UTC(),
	}

	resp, err := c.get(ctx, endpoint, &entry)
	if err != nil {
		entry.Success = false
		entry.ErrorMessage = err.Error()
		c.record(entry)
		c.logger.WarnContext(ctx, "gated request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	entry.Success = true
	entry.AmountPaid = resp.Cost
	c.record(entry)
	c.logger.InfoContext(ctx, "gated request served",
		slog.String("endpoint", endpoint),
		slog.Bool("paid", resp.Paid),
		slog.String("cost", resp.Cost.String()),
	)
	return resp, nil
}

func (c *Client) get(ctx context.Context, endpoint string, entry *domain.DataUsageLog) (*Response, error) {
	first, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("x402: request %s: %w", endpoint, err)
	}

	switch first.StatusCode() {
	case http.StatusOK:
		return &Response{StatusCode: http.StatusOK, Body: first.Body(), Cost: decimal.Zero}, nil
	case http.StatusPaymentRequired:
	default:
		return nil, fmt.Errorf("x402: unexpected status %d from %s: %w", first.StatusCode(), endpoint, domain.ErrProtocol)
	}

	challenge, err := ParseChallenge(first.Header().Get(ChallengeHeader))
	if err != nil {
		return nil, err
	}
	entry.AmountPaid = challenge.Amount
	if challenge.Expired(c.now()) {
		return nil, fmt.Errorf("x402: challenge %s already expired: %w", challenge.Nonce, domain.ErrChallengeExpired)
	}

	c.logger.DebugContext(ctx, "challenge received",
		slog.String("endpoint", endpoint),
		slog.String("nonce", challenge.Nonce),
		slog.String("amount", challenge.Amount.String()),
	)

	proof, err := c.method.Pay(ctx, challenge)
	if err != nil {
		return nil, err
	}
	header, err := EncodeProof(proof)
	if err != nil {
		return nil, err
	}

	second, err := c.http.R().SetContext(ctx).SetHeader(ProofHeader, header).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("x402: paid request %s: %w", endpoint, err)
	}
	if second.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("x402: status %d: %s: %w", second.StatusCode(), errorText(second.Body()), domain.ErrPaymentRejected)
	}

	cost := challenge.Amount
	if raw := second.Header().Get(CostHeader); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			c.logger.WarnContext(ctx, "unparseable cost header, using challenge amount",
				slog.String("endpoint", endpoint),
				slog.String("header", raw),
			)
		} else {
			cost = parsed
		}
	}

	return &Response{StatusCode: http.StatusOK, Body: second.Body(), Cost: cost, Paid: true}, nil
}

func (c *Client) record(entry domain.DataUsageLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = append(c.usage, entry)
}

// Usage returns a copy of every usage entry recorded so far.
func (c *Client) Usage() []domain.DataUsageLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DataUsageLog, len(c.usage))
	copy(out, c.usage)
	return out
}

// Summary aggregates Usage per agent.
func (c *Client) Summary() map[string]domain.UsageSummary {
	return domain.Summarize(c.Usage())
}

// ProbabilityPayload is the premium probability document.
type ProbabilityPayload struct {
	MarketID    string    `json:"marketId"`
	Probability int       `json:"probability"`
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// ProbabilityPath returns the premium probability endpoint for marketID.
func ProbabilityPath(marketID string) string {
	return "/api/premium/markets/" + url.PathEscape(marketID) + "/probability"
}

// FetchProbability buys the premium YES probability for marketID.
func (c *Client) FetchProbability(ctx context.Context, marketID string) (int, error) {
	resp, err := c.Get(ctx, ProbabilityPath(marketID))
	if err != nil {
		return 0, err
	}
	var payload ProbabilityPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, fmt.Errorf("x402: decode probability: %v: %w", err, domain.ErrProtocol)
	}
	if payload.Probability < 0 || payload.Probability > 100 {
		return 0, fmt.Errorf("x402: probability %d out of range: %w", payload.Probability, domain.ErrProtocol)
	}
	return payload.Probability, nil
}

func errorText(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}
