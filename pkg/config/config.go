// Package config loads and validates the gateway configuration from
// querygate.yaml plus environment variables.
package config

import (
	"strings"
	"time"

	"github.com/querygate/querygate/pkg/models"
)

// RoleLimits caps what a single role may do in one query.
type RoleLimits struct {
	MaxTables       int `yaml:"max_tables"`
	MaxJoins        int `yaml:"max_joins"`
	MaxRows         int `yaml:"max_rows"` // 0 = unlimited (admin)
	DailyQueryQuota int `yaml:"daily_query_quota"`
}

// PoolConfig holds per-backend connection pool settings.
type PoolConfig struct {
	Min            int           `yaml:"min"`
	Max            int           `yaml:"max"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// BreakerConfig holds circuit-breaker settings shared by all backends.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	CoolOff   time.Duration `yaml:"cool_off"`
}

// CacheConfig holds the TTLs and caps for the KV-backed caches.
type CacheConfig struct {
	SchemaTTL       time.Duration `yaml:"schema_ttl"`
	SampleTTL       time.Duration `yaml:"sample_ttl"`
	FingerprintTTL  time.Duration `yaml:"fingerprint_ttl"`
	ResultCap       int           `yaml:"result_cap"`
	ResultSmallTTL  time.Duration `yaml:"result_small_ttl"`  // <=100 rows
	ResultMediumTTL time.Duration `yaml:"result_medium_ttl"` // <=1000 rows
	ResultLargeTTL  time.Duration `yaml:"result_large_ttl"`  // everything else
}

// TimeoutConfig holds per-stage timeouts.
type TimeoutConfig struct {
	LLM         time.Duration `yaml:"llm"`
	DBExecution time.Duration `yaml:"db_execution"`
	SchemaFetch time.Duration `yaml:"schema_fetch"`
}

// ApprovalConfig holds the approval-gate thresholds.
type ApprovalConfig struct {
	// Risk levels that force the approval gate.
	RiskLevelsThatRequire []models.RiskLevel `yaml:"risk_levels_that_require"`
	// Cost level that forces approval (default HIGH).
	CostLevelRequiring models.CostLevel `yaml:"cost_level_requiring"`
	// Cost level that blocks outright for non-admins (default CRITICAL).
	CostLevelBlocking models.CostLevel `yaml:"cost_level_blocking"`
	// Default for tickets that do not state a preference.
	AutoApproveDefault bool `yaml:"auto_approve_default"`
}

// LLMConfig holds the provider connection settings.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // "openai" | "fake"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"` // env var holding the key
	// Router LLM fallback is pattern-matching-first; this enables the
	// fallback for inconclusive inputs.
	RouterFallback bool `yaml:"router_fallback"`
}

// Config is the umbrella configuration object returned by Load and handed to
// the composition root.
type Config struct {
	MaxIterations int            `yaml:"max_iterations"`
	Timeouts      TimeoutConfig  `yaml:"timeouts"`
	Cache         CacheConfig    `yaml:"cache"`
	Pool          PoolConfig     `yaml:"pool"`
	Breaker       BreakerConfig  `yaml:"breaker"`
	Approval      ApprovalConfig `yaml:"approval"`
	LLM           LLMConfig      `yaml:"llm"`

	SensitiveTables []string              `yaml:"sensitive_tables"`
	RoleLimits      map[string]RoleLimits `yaml:"role_limits"`

	// PivotAttempts bounds execute->pivot->synthesize retries.
	PivotAttempts int `yaml:"pivot_attempts"`

	// CheckpointTTL bounds how long a suspended ticket survives.
	CheckpointTTL time.Duration `yaml:"checkpoint_ttl"`

	// DevMode allows anonymous SSE access and relaxes auth.
	DevMode bool `yaml:"dev_mode"`
}

// LimitsForRole returns the limits for a role, falling back to the viewer
// defaults for unknown roles.
func (c *Config) LimitsForRole(role string) RoleLimits {
	if l, ok := c.RoleLimits[role]; ok {
		return l
	}
	return c.RoleLimits["viewer"]
}

// IsAdmin reports whether the role bypasses row caps and cost blocks.
func (c *Config) IsAdmin(role string) bool { return role == "admin" }

// IsSensitiveTable reports whether a table is in the sensitive set
// (case-insensitive).
func (c *Config) IsSensitiveTable(table string) bool {
	for _, t := range c.SensitiveTables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}
