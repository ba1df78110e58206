package x402

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mandatebot/internal/crypto"
	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// MethodKind enumerates the ways a challenge can be paid.
type MethodKind int

const (
	MethodMock MethodKind = iota
	MethodBlockchain
	MethodCached
)

func (k MethodKind) String() string {
	switch k {
	case MethodMock:
		return "mock"
	case MethodBlockchain:
		return "blockchain"
	case MethodCached:
		return "cached"
	default:
		return "unknown"
	}
}

// ParseMethodKind maps a configuration value to a MethodKind.
func ParseMethodKind(s string) (MethodKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mock":
		return MethodMock, nil
	case "blockchain":
		return MethodBlockchain, nil
	case "cached":
		return MethodCached, nil
	default:
		return 0, fmt.Errorf("x402: unknown payment method %q: %w", s, domain.ErrInvalidConfig)
	}
}

// PaymentMethod turns a challenge into a proof of payment.
type PaymentMethod interface {
	Kind() MethodKind
	Pay(ctx context.Context, c domain.PaymentChallenge) (domain.PaymentProof, error)
}

// MockMethod accepts any challenge the configured balance covers. The balance
// is a per-payment ceiling and is never drawn down.
type MockMethod struct {
	agentID string
	balance decimal.Decimal
	now     func() time.Time

	mu       sync.Mutex
	payments uint64
}

// NewMockMethod creates a mock payer with the given balance.
func NewMockMethod(agentID string, balance decimal.Decimal) *MockMethod {
	return &MockMethod{agentID: agentID, balance: balance, now: time.Now}
}

func (m *MockMethod) Kind() MethodKind { return MethodMock }

// Balance returns the configured mock balance.
func (m *MockMethod) Balance() decimal.Decimal { return m.balance }

// Payments returns how many proofs have been issued.
func (m *MockMethod) Payments() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments
}

// Pay checks the challenge amount against the balance and returns a proof
// with a deterministic pseudo transaction hash.
func (m *MockMethod) Pay(_ context.Context, c domain.PaymentChallenge) (domain.PaymentProof, error) {
	if m.balance.LessThan(c.Amount) {
		return domain.PaymentProof{}, fmt.Errorf("x402: mock balance %s below %s: %w",
			m.balance.String(), c.Amount.String(), domain.ErrInsufficientBalance)
	}

	m.mu.Lock()
	m.payments++
	block := m.payments
	m.mu.Unlock()

	ts := m.now().Unix()
	return domain.PaymentProof{
		Amount:          c.Amount,
		PaymentAddress:  c.PaymentAddress,
		TransactionHash: crypto.MockPaymentHash(m.agentID, c.Nonce, c.Amount.String(), ts).Hex(),
		BlockNumber:     block,
		AgentID:         m.agentID,
		Nonce:           c.Nonce,
		Timestamp:       ts,
	}, nil
}

// BlockchainMethod stands for on-chain settlement, which is not supported.
// It always fails so callers never mistake it for a real payment.
type BlockchainMethod struct{}

func (BlockchainMethod) Kind() MethodKind { return MethodBlockchain }

func (BlockchainMethod) Pay(context.Context, domain.PaymentChallenge) (domain.PaymentProof, error) {
	return domain.PaymentProof{}, fmt.Errorf("x402: blockchain payment: %w", domain.ErrNotImplemented)
}

// CachedMethod reuses a proof previously built for the same nonce while it is
// within its validity window and otherwise pays through the mock path.
type CachedMethod struct {
	cache    domain.ProofCache
	fallback *MockMethod
	validity time.Duration
	now      func() time.Time
}

// NewCachedMethod creates a caching payer.
func NewCachedMethod(cache domain.ProofCache, fallback *MockMethod, validity time.Duration) *CachedMethod {
	if validity <= 0 {
		validity = 5 * time.Minute
	}
	return &CachedMethod{cache: cache, fallback: fallback, validity: validity, now: time.Now}
}

func (m *CachedMethod) Kind() MethodKind { return MethodCached }

func (m *CachedMethod) Pay(ctx context.Context, c domain.PaymentChallenge) (domain.PaymentProof, error) {
	proof, err := m.cache.Get(ctx, c.Nonce)
	switch {
	case err == nil && m.fresh(proof) && proof.Amount.Equal(c.Amount):
		return proof, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return domain.PaymentProof{}, fmt.Errorf("x402: proof cache: %w", err)
	}

	proof, err = m.fallback.Pay(ctx, c)
	if err != nil {
		return domain.PaymentProof{}, err
	}
	if err := m.cache.Put(ctx, proof, m.validity); err != nil {
		return domain.PaymentProof{}, fmt.Errorf("x402: proof cache put: %w", err)
	}
	return proof, nil
}

func (m *CachedMethod) fresh(p domain.PaymentProof) bool {
	age := m.now().Sub(time.Unix(p.Timestamp, 0))
	return age < m.validity
}

// MemoryProofCache is a process-local ProofCache.
type MemoryProofCache struct {
	mu      sync.Mutex
	entries map[string]cachedProof
	now     func() time.Time
}

type cachedProof struct {
	proof   domain.PaymentProof
	expires time.Time
}

// NewMemoryProofCache creates an empty in-memory proof cache.
func NewMemoryProofCache() *MemoryProofCache {
	return &MemoryProofCache{entries: make(map[string]cachedProof), now: time.Now}
}

func (c *MemoryProofCache) Get(_ context.Context, nonce string) (domain.PaymentProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[nonce]
	if !ok {
		return domain.PaymentProof{}, domain.ErrNotFound
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, nonce)
		return domain.PaymentProof{}, domain.ErrNotFound
	}
	return e.proof, nil
}

func (c *MemoryProofCache) Put(_ context.Context, proof domain.PaymentProof, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[proof.Nonce] = cachedProof{proof: proof, expires: c.now().Add(ttl)}
	return nil
}

var (
	_ PaymentMethod     = (*MockMethod)(nil)
	_ PaymentMethod     = BlockchainMethod{}
	_ PaymentMethod     = (*CachedMethod)(nil)
	_ domain.ProofCache = (*MemoryProofCache)(nil)
)
