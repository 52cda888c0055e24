package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/pkg/models"
)

// PostgresDriver runs queries on a pgx connection pool. Each query pins one
// pooled connection so the backend pid is known for the lifetime of the
// statement.
type PostgresDriver struct {
	pool *pgxpool.Pool

	mu        sync.Mutex
	activePID string
}

// NewPostgresDriver connects a pool from a standard Postgres URL, applying
// the configured min/max connection bounds.
func NewPostgresDriver(ctx context.Context, url string, minConns, maxConns int) (*PostgresDriver, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresDriver{pool: pool}, nil
}

// NewPostgresDriverFromPool wraps an existing pool, for tests.
func NewPostgresDriverFromPool(pool *pgxpool.Pool) *PostgresDriver {
	return &PostgresDriver{pool: pool}
}

func (d *PostgresDriver) Query(ctx context.Context, sql string) (*models.ExecutionResult, error) {
	start := time.Now()
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	d.setActivePID(fmt.Sprint(conn.Conn().PgConn().PID()))
	defer d.setActivePID("")

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &models.ExecutionResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	result.Status = models.ExecSuccess
	return result, nil
}

func (d *PostgresDriver) setActivePID(pid string) {
	d.mu.Lock()
	d.activePID = pid
	d.mu.Unlock()
}

func (d *PostgresDriver) ActiveSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activePID
}

func (d *PostgresDriver) KillSession(ctx context.Context, sessionID string) error {
	// Runs on a different pooled connection than the one being killed.
	_, err := d.pool.Exec(ctx, "SELECT pg_terminate_backend($1::int)", sessionID)
	return err
}

func (d *PostgresDriver) Healthy(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *PostgresDriver) Close() error {
	d.pool.Close()
	return nil
}
