package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

func newFingerprintCache(t *testing.T) (*FingerprintCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewFingerprintCache(store, time.Hour), mr
}

func TestNormalizeQueryText(t *testing.T) {
	assert.Equal(t, "show me all orders", NormalizeQueryText("  Show  ME\tall\norders "))
	assert.Equal(t, "", NormalizeQueryText("   "))
}

func TestFingerprintKey_StableAcrossFormatting(t *testing.T) {
	a := FingerprintKey(models.DatabaseOracle, "fp", "Show me ALL orders", "data_query")
	b := FingerprintKey(models.DatabaseOracle, "fp", "show   me all orders", "DATA_QUERY")
	assert.Equal(t, a, b)
}

func TestFingerprintKey_VariesByInputs(t *testing.T) {
	base := FingerprintKey(models.DatabaseOracle, "fp", "show orders", "data_query")
	assert.NotEqual(t, base, FingerprintKey(models.DatabasePostgres, "fp", "show orders", "data_query"))
	assert.NotEqual(t, base, FingerprintKey(models.DatabaseOracle, "fp2", "show orders", "data_query"))
	assert.NotEqual(t, base, FingerprintKey(models.DatabaseOracle, "fp", "show customers", "data_query"))
	assert.NotEqual(t, base, FingerprintKey(models.DatabaseOracle, "fp", "show orders", "metadata"))
}

func TestFingerprintCache_PutGet(t *testing.T) {
	c, _ := newFingerprintCache(t)
	ctx := context.Background()
	key := FingerprintKey(models.DatabasePostgres, "fp", "show orders", "data_query")

	c.Put(ctx, key, "SELECT * FROM orders", 90)

	entry := c.Get(ctx, key)
	require.NotNil(t, entry)
	assert.Equal(t, "SELECT * FROM orders", entry.SQL)
	assert.Equal(t, 90, entry.Confidence)
	assert.Equal(t, 1, entry.UsageCount)

	// Usage count climbs with each hit.
	entry = c.Get(ctx, key)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.UsageCount)
}

func TestFingerprintCache_Miss(t *testing.T) {
	c, _ := newFingerprintCache(t)
	assert.Nil(t, c.Get(context.Background(), "sqlfp:unknown"))
}

func TestFingerprintCache_CorruptEntryDropped(t *testing.T) {
	c, mr := newFingerprintCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("sqlfp:bad", "not json"))
	assert.Nil(t, c.Get(ctx, "sqlfp:bad"))
	// The corrupt entry is removed so the next miss refetches cleanly.
	assert.False(t, mr.Exists("sqlfp:bad"))
}

func TestFingerprintCache_StoreDownBypasses(t *testing.T) {
	c, mr := newFingerprintCache(t)
	mr.Close()
	assert.Nil(t, c.Get(context.Background(), "sqlfp:any"))
	c.Put(context.Background(), "sqlfp:any", "SELECT 1", 80)
}
