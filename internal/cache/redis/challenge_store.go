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

// expiredGrace keeps a challenge readable for a while after it expires so a
// late proof is reported as expired rather than unknown.
const expiredGrace = time.Minute

// ChallengeStore implements domain.ChallengeStore so several gateway replicas
// can settle each other's challenges.
//
// Key schema:
//
//	x402:challenge:{nonce} - JSON challenge, TTL = time to expiry + grace
type ChallengeStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewChallengeStore creates a ChallengeStore backed by the given Client.
func NewChallengeStore(c *Client) *ChallengeStore {
	return &ChallengeStore{rdb: c.rdb, now: time.Now}
}

func challengeKey(nonce string) string {
	return "x402:challenge:" + nonce
}

func (s *ChallengeStore) Put(ctx context.Context, c domain.PaymentChallenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: marshal challenge %s: %w", c.Nonce, err)
	}
	ttl := time.Unix(c.ExpiresAt, 0).Sub(s.now()) + expiredGrace
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.rdb.Set(ctx, challengeKey(c.Nonce), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put challenge %s: %w", c.Nonce, err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, nonce string) (domain.PaymentChallenge, error) {
	data, err := s.rdb.Get(ctx, challengeKey(nonce)).Bytes()
	return decodeChallenge(nonce, data, err)
}

// Consume removes the challenge with GETDEL, so exactly one caller observes
// it even across replicas.
func (s *ChallengeStore) Consume(ctx context.Context, nonce string) (domain.PaymentChallenge, error) {
	data, err := s.rdb.GetDel(ctx, challengeKey(nonce)).Bytes()
	return decodeChallenge(nonce, data, err)
}

func decodeChallenge(nonce string, data []byte, err error) (domain.PaymentChallenge, error) {
	var c domain.PaymentChallenge
	if errors.Is(err, redis.Nil) {
		return c, domain.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("redis: read challenge %s: %w", nonce, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("redis: decode challenge %s: %w", nonce, err)
	}
	return c, nil
}

var _ domain.ChallengeStore = (*ChallengeStore)(nil)
