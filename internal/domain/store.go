package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UsageStore persists the append-only gated-data usage ledger.
type UsageStore interface {
	Append(ctx context.Context, entry DataUsageLog) error
	// List returns entries oldest first. An empty agentID returns every entry.
	List(ctx context.Context, agentID string) ([]DataUsageLog, error)
	// ListSince returns entries with Timestamp strictly after since.
	ListSince(ctx context.Context, since time.Time, limit int) ([]DataUsageLog, error)
}

// ChallengeStore holds outstanding payment challenges keyed by nonce.
type ChallengeStore interface {
	Put(ctx context.Context, c PaymentChallenge) error
	Get(ctx context.Context, nonce string) (PaymentChallenge, error)
	// Consume atomically removes and returns the challenge. A second call for
	// the same nonce returns ErrNotFound.
	Consume(ctx context.Context, nonce string) (PaymentChallenge, error)
}

// ProofCache remembers proofs built for a challenge nonce.
type ProofCache interface {
	Get(ctx context.Context, nonce string) (PaymentProof, error)
	Put(ctx context.Context, proof PaymentProof, ttl time.Duration) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// HealthChecker is a backend that can report its reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}
