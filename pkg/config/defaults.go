package config

import (
	"time"

	"github.com/querygate/querygate/pkg/models"
)

// Defaults returns the built-in configuration. User YAML overrides these via
// a merge in Load.
func Defaults() *Config {
	return &Config{
		MaxIterations: models.DefaultMaxIterations,
		Timeouts: TimeoutConfig{
			LLM:         60 * time.Second,
			DBExecution: 600 * time.Second,
			SchemaFetch: 30 * time.Second,
		},
		Cache: CacheConfig{
			SchemaTTL:       time.Hour,
			SampleTTL:       30 * time.Minute,
			FingerprintTTL:  30 * 24 * time.Hour,
			ResultCap:       1000,
			ResultSmallTTL:  30 * time.Minute,
			ResultMediumTTL: 10 * time.Minute,
			ResultLargeTTL:  5 * time.Minute,
		},
		Pool: PoolConfig{
			Min:            1,
			Max:            5,
			AcquireTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			CoolOff:   30 * time.Second,
		},
		Approval: ApprovalConfig{
			RiskLevelsThatRequire: []models.RiskLevel{models.RiskHigh, models.RiskCritical},
			CostLevelRequiring:    models.CostHigh,
			CostLevelBlocking:     models.CostCritical,
			AutoApproveDefault:    false,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
			// Disabled by default: the pattern matcher is deterministic and
			// the fallback adds latency on the hot path.
			RouterFallback: false,
		},
		SensitiveTables: []string{"users", "sensitive_users", "credentials", "salaries", "audit_log"},
		RoleLimits: map[string]RoleLimits{
			"admin":   {MaxTables: 10, MaxJoins: 8, MaxRows: 0, DailyQueryQuota: 0},
			"analyst": {MaxTables: 5, MaxJoins: 4, MaxRows: 10000, DailyQueryQuota: 500},
			"viewer":  {MaxTables: 3, MaxJoins: 2, MaxRows: 1000, DailyQueryQuota: 100},
		},
		PivotAttempts: 2,
		CheckpointTTL: 7 * 24 * time.Hour,
		DevMode:       false,
	}
}
