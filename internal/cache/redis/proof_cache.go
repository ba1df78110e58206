package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// ProofCache implements domain.ProofCache, letting several agent processes
// reuse one proof per challenge nonce.
type ProofCache struct {
	rdb *redis.Client
}

// NewProofCache creates a ProofCache backed by the given Client.
func NewProofCache(c *Client) *ProofCache {
	return &ProofCache{rdb: c.rdb}
}

func proofKey(nonce string) string {
	return "x402:proof:" + nonce
}

func (p *ProofCache) Get(ctx context.Context, nonce string) (domain.PaymentProof, error) {
	var proof domain.PaymentProof
	data, err := p.rdb.Get(ctx, proofKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return proof, domain.ErrNotFound
	}
	if err != nil {
		return proof, fmt.Errorf("redis: get proof %s: %w", nonce, err)
	}
	if err := json.Unmarshal(data, &proof); err != nil {
		return proof, fmt.Errorf("redis: decode proof %s: %w", nonce, err)
	}
	return proof, nil
}

func (p *ProofCache) Put(ctx context.Context, proof domain.PaymentProof, ttl time.Duration) error {
	data, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("redis: marshal proof %s: %w", proof.Nonce, err)
	}
	if err := p.rdb.Set(ctx, proofKey(proof.Nonce), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put proof %s: %w", proof.Nonce, err)
	}
	return nil
}

var _ domain.ProofCache = (*ProofCache)(nil)
