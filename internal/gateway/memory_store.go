package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// MemoryChallengeStore keeps outstanding challenges in a mutex-guarded map.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]domain.PaymentChallenge
}

// NewMemoryChallengeStore creates an empty challenge table.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]domain.PaymentChallenge)}
}

func (s *MemoryChallengeStore) Put(_ context.Context, c domain.PaymentChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.Nonce] = c
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, nonce string) (domain.PaymentChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[nonce]
	if !ok {
		return domain.PaymentChallenge{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, nonce string) (domain.PaymentChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[nonce]
	if !ok {
		return domain.PaymentChallenge{}, domain.ErrNotFound
	}
	delete(s.challenges, nonce)
	return c, nil
}

// Sweep evicts challenges that expired before now and returns how many were
// removed.
func (s *MemoryChallengeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for nonce, c := range s.challenges {
		if c.Expired(now) {
			delete(s.challenges, nonce)
			n++
		}
	}
	return n
}

// Len returns the number of outstanding challenges.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// MemoryUsageStore is an append-only, mutex-guarded usage ledger.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	entries []domain.DataUsageLog
}

// NewMemoryUsageStore creates an empty ledger.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Append(_ context.Context, e domain.DataUsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryUsageStore) List(_ context.Context, agentID string) ([]domain.DataUsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DataUsageLog, 0, len(s.entries))
	for _, e := range s.entries {
		if agentID == "" || e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryUsageStore) ListSince(_ context.Context, since time.Time, limit int) ([]domain.DataUsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DataUsageLog
	for _, e := range s.entries {
		if !e.Timestamp.After(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ domain.ChallengeStore = (*MemoryChallengeStore)(nil)
	_ domain.UsageStore     = (*MemoryUsageStore)(nil)
)
