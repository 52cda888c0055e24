package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/pkg/models"
)

// PostgresFetcher reads schema metadata from information_schema over a
// shared pgx pool.
type PostgresFetcher struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresFetcher builds a fetcher scoped to one database schema.
// Empty schemaName means public.
func NewPostgresFetcher(pool *pgxpool.Pool, schemaName string) *PostgresFetcher {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresFetcher{pool: pool, schema: schemaName}
}

// ListTables returns base table names in the configured schema.
func (f *PostgresFetcher) ListTables(ctx context.Context) ([]string, error) {
	rows, err := f.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, f.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Describe returns the columns of one table in ordinal order.
func (f *PostgresFetcher) Describe(ctx context.Context, table string) ([]models.Column, error) {
	rows, err := f.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`, f.schema, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []models.Column
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return nil, err
		}
		cols = append(cols, models.Column{
			Name:     name,
			Type:     typ,
			Nullable: nullable == "YES",
		})
	}
	return cols, rows.Err()
}

// SampleRows returns up to n rows of a table rendered as strings.
func (f *PostgresFetcher) SampleRows(ctx context.Context, table string, n int) ([][]string, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", pgx.Identifier{f.schema, table}.Sanitize(), n)
	rows, err := f.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rendered := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				rendered[i] = "NULL"
				continue
			}
			rendered[i] = fmt.Sprint(v)
		}
		out = append(out, rendered)
	}
	return out, rows.Err()
}

// Relationships returns the foreign-key edges declared in the schema.
func (f *PostgresFetcher) Relationships(ctx context.Context) ([]models.Relationship, error) {
	rows, err := f.pool.Query(ctx,
		`SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name
		  AND tc.table_schema = kcu.table_schema
		 JOIN information_schema.constraint_column_usage ccu
		   ON tc.constraint_name = ccu.constraint_name
		  AND tc.table_schema = ccu.table_schema
		 WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`, f.schema)
	if err != nil {
		return nil, fmt.Errorf("relationships: %w", err)
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		var r models.Relationship
		if err := rows.Scan(&r.FromTable, &r.FromColumn, &r.ToTable, &r.ToColumn); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
