package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/querygate/querygate/pkg/models"
)

// DorisDriver runs queries over the MySQL wire protocol Doris speaks. Each
// query pins one connection so its connection id is known for KILL QUERY.
type DorisDriver struct {
	db *sql.DB

	mu       sync.Mutex
	activeID string
}

// NewDorisDriver opens a connection pool against a Doris frontend using a
// MySQL DSN.
func NewDorisDriver(dsn string, maxConns int) (*DorisDriver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open doris: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &DorisDriver{db: db}, nil
}

// NewDorisDriverFromDB wraps an existing handle, for tests.
func NewDorisDriverFromDB(db *sql.DB) *DorisDriver { return &DorisDriver{db: db} }

func (d *DorisDriver) Query(ctx context.Context, query string) (*models.ExecutionResult, error) {
	start := time.Now()
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var connID string
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connID); err == nil {
		d.setActiveID(connID)
		defer d.setActiveID("")
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &models.ExecutionResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// MySQL wire values arrive as []byte; decode to strings for JSON.
		for i, v := range raw {
			if b, ok := v.([]byte); ok {
				raw[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	result.Status = models.ExecSuccess
	return result, nil
}

func (d *DorisDriver) setActiveID(id string) {
	d.mu.Lock()
	d.activeID = id
	d.mu.Unlock()
}

func (d *DorisDriver) ActiveSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeID
}

func (d *DorisDriver) KillSession(ctx context.Context, sessionID string) error {
	// Runs on a different pooled connection than the one being killed.
	_, err := d.db.ExecContext(ctx, fmt.Sprintf("KILL QUERY %s", sessionID))
	return err
}

func (d *DorisDriver) Healthy(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DorisDriver) Close() error { return d.db.Close() }
