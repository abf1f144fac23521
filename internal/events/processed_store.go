package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore dedupes provider webhook deliveries by (provider, event id).
type ProcessedStore struct {
	db rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: exec}
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.db.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// Claim records the event id and reports whether this caller is the first to
// see it. Concurrent deliveries of the same event get exactly one true.
func (s *ProcessedStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return true, nil
	}
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: claim processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release forgets a claim so a provider retry is processed again.
func (s *ProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID); err != nil {
		return fmt.Errorf("events: release processed: %w", err)
	}
	return nil
}
