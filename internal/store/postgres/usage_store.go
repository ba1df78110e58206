package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

const usageColumns = `id, agent_id, endpoint, amount_paid::text, ts, success, error_message`

// UsageStore implements domain.UsageStore on the usage_logs table. Rows are
// never updated; insertion order is kept by the seq column.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore creates a UsageStore backed by the given connection pool.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

// Append inserts one ledger entry.
func (s *UsageStore) Append(ctx context.Context, entry domain.DataUsageLog) error {
	const query = `
		INSERT INTO usage_logs (id, agent_id, endpoint, amount_paid, ts, success, error_message)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.AgentID,
		entry.Endpoint,
		entry.AmountPaid.String(),
		entry.Timestamp,
		entry.Success,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: append usage %s: %w", entry.ID, err)
	}
	return nil
}

// List returns entries oldest first, optionally restricted to one agent.
func (s *UsageStore) List(ctx context.Context, agentID string) ([]domain.DataUsageLog, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if agentID == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+usageColumns+` FROM usage_logs ORDER BY seq`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+usageColumns+` FROM usage_logs WHERE agent_id = $1 ORDER BY seq`, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list usage: %w", err)
	}
	return collectUsage(rows)
}

// ListSince returns up to limit entries with ts strictly after since, in
// timestamp order. A non-positive limit returns every match.
func (s *UsageStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.DataUsageLog, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_logs WHERE ts > $1 ORDER BY ts, seq`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list usage since %s: %w", since.Format(time.RFC3339), err)
	}
	return collectUsage(rows)
}

func collectUsage(rows pgx.Rows) ([]domain.DataUsageLog, error) {
	defer rows.Close()

	var out []domain.DataUsageLog
	for rows.Next() {
		var (
			e      domain.DataUsageLog
			amount string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Endpoint, &amount, &e.Timestamp, &e.Success, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("postgres: scan usage: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse amount_paid %q: %w", amount, err)
		}
		e.AmountPaid = d
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate usage: %w", err)
	}
	return out, nil
}

var _ domain.UsageStore = (*UsageStore)(nil)
