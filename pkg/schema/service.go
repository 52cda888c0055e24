// Package schema fetches and caches backend schema metadata. Snapshots are
// shared read-only across tickets; mutation happens only through this
// service.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

const (
	schemaKeyPrefix = "schema:"
	sampleKeyPrefix = "sample:"
)

// Fetcher is the backend-facing contract: list tables and describe columns.
// Implemented by the executor drivers.
type Fetcher interface {
	ListTables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, table string) ([]models.Column, error)
	SampleRows(ctx context.Context, table string, n int) ([][]string, error)
	Relationships(ctx context.Context) ([]models.Relationship, error)
}

// Service loads schema snapshots per backend, caching them in the KV store
// with a TTL. Concurrent cold loads for the same backend are collapsed into
// one fetch.
type Service struct {
	store      kv.Store
	fetchers   map[models.DatabaseKind]Fetcher
	schemaTTL  time.Duration
	sampleTTL  time.Duration
	fetchLimit time.Duration
	group      singleflight.Group
}

// NewService builds the schema service.
func NewService(store kv.Store, fetchers map[models.DatabaseKind]Fetcher, schemaTTL, sampleTTL, fetchTimeout time.Duration) *Service {
	return &Service{
		store:      store,
		fetchers:   fetchers,
		schemaTTL:  schemaTTL,
		sampleTTL:  sampleTTL,
		fetchLimit: fetchTimeout,
	}
}

// Snapshot returns the schema for the backend, from cache when fresh.
func (s *Service) Snapshot(ctx context.Context, kind models.DatabaseKind) (*models.SchemaSnapshot, error) {
	key := schemaKeyPrefix + string(kind)
	if raw, err := s.store.Get(ctx, key); err == nil {
		var snap models.SchemaSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			return &snap, nil
		}
		slog.Warn("Cached schema snapshot corrupt, refetching", "kind", kind)
	}

	v, err, _ := s.group.Do(string(kind), func() (any, error) {
		return s.fetch(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SchemaSnapshot), nil
}

// fetch loads the full snapshot from the backend and caches it.
func (s *Service) fetch(ctx context.Context, kind models.DatabaseKind) (*models.SchemaSnapshot, error) {
	fetcher, ok := s.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("no schema fetcher registered for backend %q", kind)
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchLimit)
	defer cancel()

	tables, err := fetcher.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables for %s: %w", kind, err)
	}

	snap := &models.SchemaSnapshot{
		DatabaseKind: kind,
		Tables:       make(map[string]*models.TableSchema, len(tables)),
	}
	for _, table := range tables {
		cols, err := fetcher.Describe(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("describe %s.%s: %w", kind, table, err)
		}
		for i := range cols {
			cols[i].RequiresQuoting = models.ComputeRequiresQuoting(cols[i].Name)
		}
		snap.Tables[table] = &models.TableSchema{Name: table, Columns: cols}
	}
	if rels, err := fetcher.Relationships(ctx); err == nil {
		snap.Relations = rels
	} else {
		slog.Warn("Relationship discovery failed, continuing without joins hints",
			"kind", kind, "error", err)
	}

	if raw, err := json.Marshal(snap); err == nil {
		if err := s.store.SetEx(ctx, schemaKeyPrefix+string(kind), string(raw), s.schemaTTL); err != nil {
			slog.Warn("Schema cache write failed", "kind", kind, "error", err)
		}
	}
	slog.Info("Schema snapshot loaded", "kind", kind, "tables", len(snap.Tables))
	return snap, nil
}

// Samples returns up to n probe rows for a table, cached separately from the
// snapshot because sample data churns faster than structure.
func (s *Service) Samples(ctx context.Context, kind models.DatabaseKind, table string, n int) ([][]string, error) {
	key := sampleKeyPrefix + strings.ToUpper(table)
	if raw, err := s.store.Get(ctx, key); err == nil {
		var rows [][]string
		if err := json.Unmarshal([]byte(raw), &rows); err == nil {
			return rows, nil
		}
	}
	fetcher, ok := s.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("no schema fetcher registered for backend %q", kind)
	}
	rows, err := fetcher.SampleRows(ctx, table, n)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(rows); err == nil {
		_ = s.store.SetEx(ctx, key, string(raw), s.sampleTTL)
	}
	return rows, nil
}

// Invalidate clears all cached schema keys for all backends via non-blocking
// scan. Called on explicit refresh and on column-validation failure.
func (s *Service) Invalidate(ctx context.Context) error {
	keys, err := s.store.ScanPrefix(ctx, schemaKeyPrefix)
	if err != nil {
		return fmt.Errorf("scan schema keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("delete schema keys: %w", err)
	}
	slog.Info("Schema cache invalidated", "keys", len(keys))
	return nil
}
