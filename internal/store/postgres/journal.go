package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal implements domain.AuditJournal using PostgreSQL. Every position
// lifecycle change and order action lands here as one row.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Record appends a journal entry. The detail map is stored as JSONB.
func (j *Journal) Record(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal detail: %w", err)
	}

	const query = `INSERT INTO position_journal (event, detail) VALUES ($1, $2)`
	if _, err := j.pool.Exec(ctx, query, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: record journal event %s: %w", event, err)
	}
	return nil
}
