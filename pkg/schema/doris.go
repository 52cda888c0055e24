package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

// DorisFetcher reads schema metadata over the MySQL protocol Doris speaks.
type DorisFetcher struct {
	db *sql.DB
}

// NewDorisFetcher builds a fetcher over an open MySQL-protocol handle.
func NewDorisFetcher(db *sql.DB) *DorisFetcher {
	return &DorisFetcher{db: db}
}

// ListTables runs SHOW TABLES against the current database.
func (f *DorisFetcher) ListTables(ctx context.Context) ([]string, error) {
	rows, err := f.db.QueryContext(ctx, "SHOW TABLES")
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

// Describe runs DESCRIBE and maps the Field/Type/Null columns.
func (f *DorisFetcher) Describe(ctx context.Context, table string) ([]models.Column, error) {
	rows, err := f.db.QueryContext(ctx, "DESCRIBE "+quoteBacktick(table))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var cols []models.Column
	for rows.Next() {
		vals := make([]sql.NullString, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// DESCRIBE output starts with Field, Type, Null.
		if len(vals) < 3 {
			continue
		}
		cols = append(cols, models.Column{
			Name:     vals[0].String,
			Type:     vals[1].String,
			Nullable: strings.EqualFold(vals[2].String, "yes"),
		})
	}
	return cols, rows.Err()
}

// SampleRows returns up to n rows rendered as strings.
func (f *DorisFetcher) SampleRows(ctx context.Context, table string, n int) ([][]string, error) {
	rows, err := f.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteBacktick(table), n))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]string
	for rows.Next() {
		vals := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rendered := make([]string, len(vals))
		for i, v := range vals {
			switch t := v.(type) {
			case nil:
				rendered[i] = "NULL"
			case []byte:
				rendered[i] = string(t)
			default:
				rendered[i] = fmt.Sprint(t)
			}
		}
		out = append(out, rendered)
	}
	return out, rows.Err()
}

// Relationships returns nothing: Doris does not enforce foreign keys.
func (f *DorisFetcher) Relationships(context.Context) ([]models.Relationship, error) {
	return nil, nil
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
