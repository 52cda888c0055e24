package sqlsafe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

type fixedEstimator struct {
	est *models.CostEstimate
}

func (f *fixedEstimator) Estimate(context.Context, string, models.DatabaseKind, bool) (*models.CostEstimate, error) {
	return f.est, nil
}

type alwaysApprove struct{}

func (alwaysApprove) MayAutoApprove(context.Context, string, string) bool { return true }

func newTestValidator(t *testing.T, cfg *config.Config, cost Estimator, adaptive AdaptiveApprover) *Validator {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if cost == nil {
		cost = NewHeuristicEstimator()
	}
	return NewValidator(cfg, store, cost, NewNoopRLS(), adaptive, slog.Default())
}

func testTicket(kind models.DatabaseKind) *models.QueryTicket {
	return &models.QueryTicket{
		ID:           "ticket-0001",
		OwnerUser:    "alice",
		OwnerRole:    "analyst",
		DatabaseKind: kind,
	}
}

func TestValidate_CleanSelectPasses(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT region FROM sales WHERE year = 2026 LIMIT 10", nil, "analyst")

	assert.True(t, verdict.Valid)
	assert.Empty(t, verdict.Errors)
	assert.False(t, verdict.ForceApproval)
	// auto_approve defaults to false on the ticket, so approval is required.
	assert.True(t, verdict.RequiresApproval)
	assert.Equal(t, models.QuerySelect, verdict.QueryKind)
}

func TestValidate_InjectionBlocks(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM t; DROP TABLE users", nil, "analyst")

	assert.False(t, verdict.Valid)
	assert.Equal(t, models.RiskCritical, verdict.RiskLevel)
	assert.Contains(t, verdict.Errors[0], "injection")
	assert.NotEmpty(t, verdict.InjectionFindings)
}

func TestValidate_RiskScoreBoundary(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)

	// One medium finding: score 15, below the escalation line.
	below := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE id = 5 OR 1=1", nil, "analyst")
	assert.True(t, below.Valid)
	assert.Equal(t, models.RiskLow, below.RiskLevel)
	assert.False(t, containsReason(below.RiskReasons, "injection risk score"))

	// Two medium findings: score 30 escalates without blocking.
	at := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE id = 0x"+strings.Repeat("ab", 20)+" OR 1=1", nil, "analyst")
	assert.True(t, at.Valid)
	assert.Equal(t, models.RiskMedium, at.RiskLevel)
	assert.True(t, at.ForceApproval)
	assert.True(t, containsReason(at.RiskReasons, "injection risk score"))
}

func containsReason(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestValidate_NonSelectRejected(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	for _, sql := range []string{
		"DELETE FROM sales WHERE year < 2020",
		"UPDATE sales SET total = 0",
		"CREATE TABLE x (a int)",
	} {
		verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres), sql, nil, "analyst")
		assert.False(t, verdict.Valid, sql)
		assert.Equal(t, models.RiskCritical, verdict.RiskLevel, sql)
	}
}

func TestValidate_MultipleStatementsRejected(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT 1 FROM a; SELECT 2 FROM b", nil, "analyst")
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Errors[0], "multiple statements")
}

func TestValidate_DialectAutoConversion(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT NVL(total, 0) FROM sales WHERE year = 2026", nil, "analyst")

	assert.True(t, verdict.Valid)
	assert.Contains(t, verdict.RewrittenSQL, "COALESCE(")
	assert.NotEmpty(t, verdict.Warnings)
}

func TestValidate_TableScopeBoundary(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)

	// Viewer allows 3 tables; exactly 3 passes without a scope escalation.
	ok := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM a JOIN b ON a.id=b.id JOIN c ON b.id=c.id WHERE a.x=1", nil, "viewer")
	assert.False(t, containsReason(ok.RiskReasons, "tables"))

	over := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM a JOIN b ON a.id=b.id JOIN c ON b.id=c.id JOIN d ON c.id=d.id WHERE a.x=1", nil, "viewer")
	assert.True(t, over.ForceApproval)
	assert.True(t, containsReason(over.RiskReasons, "4 tables"))
}

func TestValidate_SensitiveTableForcesApproval(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	ticket := testTicket(models.DatabasePostgres)
	ticket.AutoApprove = true
	verdict := v.Validate(context.Background(), ticket,
		"SELECT name FROM users WHERE id = 1", nil, "analyst")

	assert.True(t, verdict.Valid)
	assert.True(t, verdict.ForceApproval)
	assert.True(t, verdict.RequiresApproval)
	assert.True(t, containsReason(verdict.RiskReasons, "sensitive table"))
}

func TestValidate_CartesianForcesApproval(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM a, b", nil, "analyst")
	assert.True(t, verdict.ForceApproval)
	assert.True(t, containsReason(verdict.RiskReasons, "cartesian"))
}

func TestValidate_RoleRowCapApplied(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "viewer")
	assert.Contains(t, verdict.RewrittenSQL, "LIMIT 1000")
}

func TestValidate_AdminUnlimitedRows(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "admin")
	assert.NotContains(t, verdict.RewrittenSQL, "LIMIT")
}

func TestValidate_QuotaExhausted(t *testing.T) {
	cfg := config.Defaults()
	cfg.RoleLimits["viewer"] = config.RoleLimits{MaxTables: 3, MaxJoins: 2, MaxRows: 1000, DailyQueryQuota: 2}
	v := newTestValidator(t, cfg, nil, nil)

	ticket := testTicket(models.DatabasePostgres)
	sql := "SELECT * FROM sales WHERE year = 2026"
	for i := 0; i < 2; i++ {
		verdict := v.Validate(context.Background(), ticket, sql, nil, "viewer")
		require.True(t, verdict.Valid, fmt.Sprintf("call %d", i))
	}
	third := v.Validate(context.Background(), ticket, sql, nil, "viewer")
	assert.False(t, third.Valid)
	assert.Contains(t, third.Errors[0], "quota")
}

func TestValidate_QuotaChargedOncePerTicket(t *testing.T) {
	cfg := config.Defaults()
	cfg.RoleLimits["viewer"] = config.RoleLimits{MaxTables: 3, MaxJoins: 2, MaxRows: 1000, DailyQueryQuota: 1}
	v := newTestValidator(t, cfg, nil, nil)

	ticket := testTicket(models.DatabasePostgres)
	ticket.Iterations = 1
	sql := "SELECT * FROM sales WHERE year = 2026"

	first := v.Validate(context.Background(), ticket, sql, nil, "viewer")
	require.True(t, first.Valid)

	// A repair re-entry validates again without spending quota.
	ticket.Iterations = 2
	second := v.Validate(context.Background(), ticket, sql, nil, "viewer")
	assert.True(t, second.Valid)
	assert.Empty(t, second.Errors)
}

func TestValidate_CostBlockingForNonAdmin(t *testing.T) {
	cost := &fixedEstimator{est: &models.CostEstimate{
		TotalCost: 5000, Cardinality: 100, Level: models.CostCritical,
		Recommendations: []string{"add a filter"},
	}}
	v := newTestValidator(t, config.Defaults(), cost, nil)

	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "analyst")
	assert.False(t, verdict.Valid)
	assert.Equal(t, models.RiskCritical, verdict.RiskLevel)
	assert.Contains(t, verdict.Errors[0], "cost")
	assert.Contains(t, verdict.RiskReasons, "add a filter")
}

func TestValidate_CostCriticalAllowedForAdmin(t *testing.T) {
	cost := &fixedEstimator{est: &models.CostEstimate{
		TotalCost: 5000, Cardinality: 100, Level: models.CostCritical,
	}}
	v := newTestValidator(t, config.Defaults(), cost, nil)

	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "admin")
	assert.True(t, verdict.Valid)
}

func TestValidate_CostHighForcesApproval(t *testing.T) {
	cost := &fixedEstimator{est: &models.CostEstimate{
		TotalCost: 800, Cardinality: 100, Level: models.CostHigh,
	}}
	v := newTestValidator(t, config.Defaults(), cost, nil)

	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "analyst")
	assert.True(t, verdict.Valid)
	assert.True(t, verdict.ForceApproval)
}

func TestValidate_CardinalityBoundary(t *testing.T) {
	mk := func(card int64) *Validator {
		return newTestValidator(t, config.Defaults(), &fixedEstimator{est: &models.CostEstimate{
			TotalCost: 50, Cardinality: card, Level: models.CostLow,
		}}, nil)
	}

	atCap := mk(1000).Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "analyst")
	assert.False(t, containsReason(atCap.RiskReasons, "exceeds"))

	overCap := mk(1001).Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "analyst")
	assert.True(t, overCap.ForceApproval)
	assert.True(t, containsReason(overCap.RiskReasons, "exceeds"))
}

func TestValidate_CardinalityOverCapWithAutoApprove(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), &fixedEstimator{est: &models.CostEstimate{
		TotalCost: 50, Cardinality: 5000, Level: models.CostLow,
	}}, nil)
	ticket := testTicket(models.DatabasePostgres)
	ticket.AutoApprove = true

	verdict := v.Validate(context.Background(), ticket,
		"SELECT * FROM sales WHERE year = 2026", nil, "analyst")
	assert.False(t, verdict.ForceApproval)
	assert.False(t, verdict.RequiresApproval)
}

func TestValidate_AdaptiveNeverOverridesForce(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, alwaysApprove{})

	// Forced escalation: the adaptive approver must not relax it.
	forced := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT name FROM users WHERE id = 1", nil, "analyst")
	assert.True(t, forced.ForceApproval)
	assert.True(t, forced.RequiresApproval)

	// Non-forced requirement: the adaptive approver may waive it.
	relaxed := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT region FROM sales WHERE year = 2026 LIMIT 10", nil, "analyst")
	assert.False(t, relaxed.ForceApproval)
	assert.False(t, relaxed.RequiresApproval)
}

func TestValidate_QuotaOutageAllowsQuery(t *testing.T) {
	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	v := NewValidator(config.Defaults(), store, NewHeuristicEstimator(), NewNoopRLS(), nil, slog.Default())
	mr.Close()

	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "viewer")
	assert.True(t, verdict.Valid)
}

func TestValidate_ScopeReportsRoleLimits(t *testing.T) {
	v := newTestValidator(t, config.Defaults(), nil, nil)
	verdict := v.Validate(context.Background(), testTicket(models.DatabasePostgres),
		"SELECT * FROM sales WHERE year = 2026", nil, "viewer")
	// Scope caps mirror the role limits when risk stays below high.
	assert.Equal(t, 3, verdict.Scope.MaxTables)
	assert.Equal(t, 2, verdict.Scope.MaxJoins)
}
