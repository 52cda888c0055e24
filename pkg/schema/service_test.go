package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

// fakeFetcher serves a canned schema and counts backend round trips.
type fakeFetcher struct {
	mu         sync.Mutex
	listCalls  atomic.Int32
	listErr    error
	sampleRows [][]string
	relErr     error
}

func (f *fakeFetcher) ListTables(context.Context) ([]string, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []string{"SALES", "lowercase_table"}, nil
}

func (f *fakeFetcher) Describe(_ context.Context, table string) ([]models.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch table {
	case "SALES":
		return []models.Column{
			{Name: "SALES_AMOUNT", Type: "NUMBER"},
			{Name: "OrderDate", Type: "DATE"},
		}, nil
	case "lowercase_table":
		return []models.Column{{Name: "ID", Type: "NUMBER"}}, nil
	}
	return nil, errors.New("unknown table")
}

func (f *fakeFetcher) SampleRows(context.Context, string, int) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleRows, nil
}

func (f *fakeFetcher) Relationships(context.Context) ([]models.Relationship, error) {
	if f.relErr != nil {
		return nil, f.relErr
	}
	return []models.Relationship{
		{FromTable: "SALES", FromColumn: "ID", ToTable: "lowercase_table", ToColumn: "ID"},
	}, nil
}

func newTestService(t *testing.T, f Fetcher) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	fetchers := map[models.DatabaseKind]Fetcher{models.DatabaseOracle: f}
	return NewService(store, fetchers, time.Hour, 30*time.Minute, 5*time.Second), mr
}

func TestSnapshot_FetchesAndCaches(t *testing.T) {
	f := &fakeFetcher{}
	s, _ := newTestService(t, f)
	ctx := context.Background()

	snap, err := s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)
	assert.Equal(t, models.DatabaseOracle, snap.DatabaseKind)
	assert.Len(t, snap.Tables, 2)
	assert.Len(t, snap.Relations, 1)

	// A warm cache answers without touching the backend again.
	snap2, err := s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint(), snap2.Fingerprint())
	assert.Equal(t, int32(1), f.listCalls.Load())
}

func TestSnapshot_ComputesRequiresQuoting(t *testing.T) {
	s, _ := newTestService(t, &fakeFetcher{})

	snap, err := s.Snapshot(context.Background(), models.DatabaseOracle)
	require.NoError(t, err)

	sales, ok := snap.Table("SALES")
	require.True(t, ok)

	amount, ok := sales.Column("SALES_AMOUNT")
	require.True(t, ok)
	assert.False(t, amount.RequiresQuoting)

	mixed, ok := sales.Column("OrderDate")
	require.True(t, ok)
	assert.True(t, mixed.RequiresQuoting)
}

func TestSnapshot_ExpiredCacheRefetches(t *testing.T) {
	f := &fakeFetcher{}
	s, mr := newTestService(t, f)
	ctx := context.Background()

	_, err := s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.listCalls.Load())
}

func TestSnapshot_ConcurrentColdLoadsCollapse(t *testing.T) {
	f := &fakeFetcher{}
	s, _ := newTestService(t, f)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Snapshot(ctx, models.DatabaseOracle)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, f.listCalls.Load(), int32(2))
}

func TestSnapshot_UnknownBackend(t *testing.T) {
	s, _ := newTestService(t, &fakeFetcher{})
	_, err := s.Snapshot(context.Background(), models.DatabaseDoris)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema fetcher")
}

func TestSnapshot_RelationshipFailureIsNonFatal(t *testing.T) {
	f := &fakeFetcher{relErr: errors.New("dictionary view missing")}
	s, _ := newTestService(t, f)

	snap, err := s.Snapshot(context.Background(), models.DatabaseOracle)
	require.NoError(t, err)
	assert.Empty(t, snap.Relations)
	assert.Len(t, snap.Tables, 2)
}

func TestSnapshot_ListFailure(t *testing.T) {
	f := &fakeFetcher{listErr: errors.New("connection refused")}
	s, _ := newTestService(t, f)
	_, err := s.Snapshot(context.Background(), models.DatabaseOracle)
	require.Error(t, err)
}

func TestSnapshot_CorruptCacheRefetches(t *testing.T) {
	f := &fakeFetcher{}
	s, mr := newTestService(t, f)
	ctx := context.Background()

	require.NoError(t, mr.Set("schema:oracle", "{{{"))
	snap, err := s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)
	assert.Len(t, snap.Tables, 2)
	assert.Equal(t, int32(1), f.listCalls.Load())
}

func TestSamples_CachedSeparately(t *testing.T) {
	f := &fakeFetcher{sampleRows: [][]string{{"1", "EMEA"}, {"2", "APAC"}}}
	s, mr := newTestService(t, f)
	ctx := context.Background()

	rows, err := s.Samples(ctx, models.DatabaseOracle, "sales", 5)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// The second call is served from the sample cache even after the rows
	// change underneath.
	f.mu.Lock()
	f.sampleRows = nil
	f.mu.Unlock()

	rows, err = s.Samples(ctx, models.DatabaseOracle, "SALES", 5)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Samples churn faster than structure.
	mr.FastForward(time.Hour)
	rows, err = s.Samples(ctx, models.DatabaseOracle, "SALES", 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInvalidate(t *testing.T) {
	f := &fakeFetcher{}
	s, _ := newTestService(t, f)
	ctx := context.Background()

	_, err := s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)

	require.NoError(t, s.Invalidate(ctx))

	_, err = s.Snapshot(ctx, models.DatabaseOracle)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.listCalls.Load())
}

func TestInvalidate_EmptyCacheIsNoop(t *testing.T) {
	s, _ := newTestService(t, &fakeFetcher{})
	assert.NoError(t, s.Invalidate(context.Background()))
}
