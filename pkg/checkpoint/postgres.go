package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/pkg/models"
)

// checkpointDDL creates the single table this store needs. Applied
// idempotently at startup; no migration framework is warranted for one
// table.
const checkpointDDL = `
CREATE TABLE IF NOT EXISTS query_checkpoints (
    thread_id  TEXT PRIMARY KEY,
    revision   BIGINT NOT NULL,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS query_checkpoints_expires_at_idx ON query_checkpoints (expires_at);
`

// PostgresStore is the pgx-backed checkpoint store used in production.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresStore ensures the checkpoint table exists and returns the store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, ttl time.Duration) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, checkpointDDL); err != nil {
		return nil, fmt.Errorf("ensure checkpoint table: %w", err)
	}
	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

// Get implements Store. Expired rows are treated as absent.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (*models.QueryTicket, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM query_checkpoints WHERE thread_id = $1 AND expires_at > now()`,
		threadID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	var ticket models.QueryTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &ticket, nil
}

// Put implements Store with optimistic concurrency on the revision column.
func (s *PostgresStore) Put(ctx context.Context, ticket *models.QueryTicket) error {
	raw, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", ticket.ID, err)
	}
	expires := time.Now().Add(s.ttl)

	if ticket.Revision <= 1 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO query_checkpoints (thread_id, revision, state, updated_at, expires_at)
			 VALUES ($1, $2, $3, now(), $4)
			 ON CONFLICT (thread_id) DO UPDATE
			   SET revision = EXCLUDED.revision, state = EXCLUDED.state,
			       updated_at = now(), expires_at = EXCLUDED.expires_at`,
			ticket.ID, ticket.Revision, raw, expires)
		if err != nil {
			return fmt.Errorf("insert checkpoint %s: %w", ticket.ID, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE query_checkpoints
		    SET revision = $2, state = $3, updated_at = now(), expires_at = $4
		  WHERE thread_id = $1 AND revision = $2 - 1`,
		ticket.ID, ticket.Revision, raw, expires)
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", ticket.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRevisionConflict
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT thread_id FROM query_checkpoints
		  WHERE thread_id LIKE $1 || '%' AND expires_at > now()
		  ORDER BY thread_id`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM query_checkpoints WHERE thread_id = $1`, threadID)
	return err
}
