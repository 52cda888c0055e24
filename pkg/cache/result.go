package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

const (
	resultPrefix = "query:"
	// lruIndexKey is the sorted set holding insertion timestamps for LRU
	// eviction. Index entries whose target keys have already expired are
	// treated as no-ops when revisited.
	lruIndexKey = "query:lru"
)

// ResultEntry is the stored value for one cached execution result.
type ResultEntry struct {
	Result   models.ExecutionResult `json:"result"`
	CachedAt time.Time              `json:"cached_at"`
	RowCount int                    `json:"row_count"`
	TTL      int64                  `json:"ttl_seconds"`
}

// ResultCache caches execution results keyed by a hash of the normalized SQL.
// TTL adapts to result size; a global count cap triggers LRU eviction of the
// oldest 10%.
type ResultCache struct {
	store kv.Store
	cfg   config.CacheConfig
}

// NewResultCache builds a result cache.
func NewResultCache(store kv.Store, cfg config.CacheConfig) *ResultCache {
	return &ResultCache{store: store, cfg: cfg}
}

// ResultKey hashes normalized SQL into the cache key.
func ResultKey(normalizedSQL string) string {
	sum := sha256.Sum256([]byte(NormalizeQueryText(normalizedSQL)))
	return resultPrefix + hex.EncodeToString(sum[:])
}

// ttlFor picks the adaptive TTL: small results live longest.
func (c *ResultCache) ttlFor(rowCount int) time.Duration {
	switch {
	case rowCount <= 100:
		return c.cfg.ResultSmallTTL
	case rowCount <= 1000:
		return c.cfg.ResultMediumTTL
	default:
		return c.cfg.ResultLargeTTL
	}
}

// Get returns the cached result for the SQL, or nil on miss/bypass.
func (c *ResultCache) Get(ctx context.Context, normalizedSQL string) *models.ExecutionResult {
	key := ResultKey(normalizedSQL)
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if err != kv.ErrNotFound {
			slog.Warn("Result cache read failed, bypassing", "error", err)
		}
		return nil
	}
	var entry ResultEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		slog.Warn("Result cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.store.Delete(ctx, key)
		_ = c.store.ZRem(ctx, lruIndexKey, key)
		return nil
	}
	result := entry.Result
	result.CacheStatus = models.CacheHit
	return &result
}

// Put stores a successful result with its adaptive TTL and maintains the LRU
// index, evicting the oldest 10% once the cap is exceeded. Value write and
// index update are separate operations; occasional drift is tolerated (a
// dangling index entry deletes an already-expired key).
func (c *ResultCache) Put(ctx context.Context, normalizedSQL string, result *models.ExecutionResult) {
	if result == nil || result.Status != models.ExecSuccess {
		return
	}
	key := ResultKey(normalizedSQL)
	ttl := c.ttlFor(result.RowCount)
	entry := ResultEntry{
		Result:   *result,
		CachedAt: time.Now().UTC(),
		RowCount: result.RowCount,
		TTL:      int64(ttl.Seconds()),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.store.SetEx(ctx, key, string(raw), ttl); err != nil {
		slog.Warn("Result cache write failed", "error", err)
		return
	}
	if err := c.store.ZAdd(ctx, lruIndexKey, kv.Member{
		Score:  float64(time.Now().UnixNano()),
		Member: key,
	}); err != nil {
		slog.Warn("Result cache index update failed", "error", err)
		return
	}
	c.evictIfNeeded(ctx)
}

// evictIfNeeded trims the cache to the cap by removing the oldest 10%.
func (c *ResultCache) evictIfNeeded(ctx context.Context) {
	card, err := c.store.ZCard(ctx, lruIndexKey)
	if err != nil || card <= int64(c.cfg.ResultCap) {
		return
	}
	evict := int64(c.cfg.ResultCap / 10)
	if evict < 1 {
		evict = 1
	}
	victims, err := c.store.ZPopOldest(ctx, lruIndexKey, evict)
	if err != nil {
		slog.Warn("Result cache eviction failed", "error", err)
		return
	}
	if len(victims) > 0 {
		_ = c.store.Delete(ctx, victims...)
		slog.Debug("Result cache evicted oldest entries", "count", len(victims))
	}
}
