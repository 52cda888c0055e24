// Package cache implements the KV-backed caches: generated-SQL fingerprints
// (long TTL) and query results (adaptive TTL with LRU eviction). Cache
// failures degrade to bypass; they never fail a ticket.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

const fingerprintPrefix = "sqlfp:"

// FingerprintEntry is the stored value for one generated-SQL fingerprint.
type FingerprintEntry struct {
	SQL        string    `json:"sql"`
	Confidence int       `json:"confidence"`
	CachedAt   time.Time `json:"cached_at"`
	UsageCount int       `json:"usage_count"`
}

// FingerprintCache caches generated SQL keyed by a stable hash of the inputs
// that determined it. A hit skips the LLM entirely.
type FingerprintCache struct {
	store kv.Store
	ttl   time.Duration
}

// NewFingerprintCache builds a fingerprint cache with the configured TTL
// (default 30 days).
func NewFingerprintCache(store kv.Store, ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{store: store, ttl: ttl}
}

// NormalizeQueryText canonicalizes user text for fingerprinting: lower-case,
// whitespace collapsed.
func NormalizeQueryText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// FingerprintKey computes the cache key from the backend kind, schema
// fingerprint, normalized user text, and normalized intent.
func FingerprintKey(kind models.DatabaseKind, schemaFP, userText, intent string) string {
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(schemaFP))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeQueryText(userText)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(intent))))
	return fingerprintPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached entry for key, bumping its usage count. A miss or a
// store failure returns nil.
func (c *FingerprintCache) Get(ctx context.Context, key string) *FingerprintEntry {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if err != kv.ErrNotFound {
			slog.Warn("Fingerprint cache read failed, bypassing", "error", err)
		}
		return nil
	}
	var entry FingerprintEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		slog.Warn("Fingerprint cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.store.Delete(ctx, key)
		return nil
	}
	entry.UsageCount++
	if updated, err := json.Marshal(entry); err == nil {
		_ = c.store.SetEx(ctx, key, string(updated), c.ttl)
	}
	return &entry
}

// Put stores generated SQL under the fingerprint key. Best-effort.
func (c *FingerprintCache) Put(ctx context.Context, key, sql string, confidence int) {
	entry := FingerprintEntry{
		SQL:        sql,
		Confidence: confidence,
		CachedAt:   time.Now().UTC(),
		UsageCount: 0,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.store.SetEx(ctx, key, string(raw), c.ttl); err != nil {
		slog.Warn("Fingerprint cache write failed", "error", err)
	}
}
