package sqlsafe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/models"
)

// AdaptiveApprover may waive the approval requirement for users with a
// history of similar approved queries. It never overrides a forced
// escalation; the validator enforces that ordering.
type AdaptiveApprover interface {
	MayAutoApprove(ctx context.Context, userID, sqlHash string) bool
}

// quotaTTL keeps daily counters alive past midnight drift.
const quotaTTL = 26 * time.Hour

// Validator runs the ordered safety pipeline over generated SQL. Each check
// may add a warning, a terminal error, a risk escalation, or rewrite the
// statement; rewrites accumulate into the verdict's RewrittenSQL.
type Validator struct {
	cfg      *config.Config
	store    kv.Store
	cost     Estimator
	rls      RLSEnforcer
	adaptive AdaptiveApprover
	logger   *slog.Logger
}

// NewValidator wires the safety pipeline. adaptive may be nil.
func NewValidator(cfg *config.Config, store kv.Store, cost Estimator, rls RLSEnforcer, adaptive AdaptiveApprover, logger *slog.Logger) *Validator {
	return &Validator{
		cfg:      cfg,
		store:    store,
		cost:     cost,
		rls:      rls,
		adaptive: adaptive,
		logger:   logger.With("component", "validator"),
	}
}

// Validate runs every check in order and returns the aggregate verdict. The
// possibly-rewritten SQL is in RewrittenSQL; callers execute that text.
func (v *Validator) Validate(ctx context.Context, ticket *models.QueryTicket, sql string, schema *models.SchemaSnapshot, role string) *models.ValidationVerdict {
	verdict := &models.ValidationVerdict{
		Valid:        true,
		RiskLevel:    models.RiskSafe,
		QueryKind:    ClassifyQuery(sql),
		RewrittenSQL: sql,
	}
	limits := v.cfg.LimitsForRole(role)
	isAdmin := v.cfg.IsAdmin(role)

	// 1. Injection scan. Critical or high findings block outright.
	scan := ScanInjection(sql)
	verdict.InjectionFindings = scan.Findings
	if scan.Blocked {
		verdict.RiskLevel = maxSeverityRisk(scan.Findings)
		verdict.AddError("statement blocked by injection detection")
		v.logger.Warn("injection blocked",
			"ticket_id", ticket.ID, "risk_score", scan.RiskScore, "findings", len(scan.Findings))
		return verdict
	}
	if scan.RiskScore >= riskScoreEscalation {
		verdict.RiskLevel = models.RiskMedium
		verdict.Escalate(fmt.Sprintf("injection risk score %d", scan.RiskScore))
	} else if scan.RiskScore > 0 {
		verdict.RiskLevel = models.RiskLow
	}

	// 2. Structural validity: exactly one statement.
	stmts := SplitStatements(sql)
	if len(stmts) == 0 {
		verdict.AddError("empty statement")
		return verdict
	}
	if len(stmts) > 1 {
		verdict.AddError("multiple statements are not allowed")
		return verdict
	}
	sql = stmts[0]
	if verdict.QueryKind != models.QuerySelect {
		verdict.RiskLevel = models.RiskCritical
		verdict.AddError(fmt.Sprintf("%s statements are not allowed", verdict.QueryKind))
		return verdict
	}

	// 3. Dialect validation with a single auto-conversion attempt.
	if issues := ValidateDialect(sql, ticket.DatabaseKind); len(issues) > 0 {
		converted, warnings := ConvertDialect(sql, otherDialect(ticket.DatabaseKind), ticket.DatabaseKind)
		for _, w := range warnings {
			verdict.AddWarning(w)
		}
		if remaining := ValidateDialect(converted, ticket.DatabaseKind); len(remaining) > 0 {
			for _, issue := range remaining {
				verdict.AddWarning(issue)
			}
			verdict.Escalate("dialect mismatch not fully convertible")
		} else {
			sql = converted
		}
	}

	// 4. Scope limits. High or critical risk tightens both caps by one.
	tables := ReferencedTables(sql)
	joins := CountJoins(sql)
	maxTables, maxJoins := limits.MaxTables, limits.MaxJoins
	if verdict.RiskLevel == models.RiskHigh || verdict.RiskLevel == models.RiskCritical {
		maxTables--
		maxJoins--
	}
	verdict.Scope = models.ScopeInfo{
		TableCount: len(tables),
		JoinCount:  joins,
		MaxTables:  maxTables,
		MaxJoins:   maxJoins,
		MaxRows:    limits.MaxRows,
	}
	if len(tables) > maxTables {
		verdict.Escalate(fmt.Sprintf("query touches %d tables; your role allows %d", len(tables), maxTables))
	}
	if joins > maxJoins {
		verdict.Escalate(fmt.Sprintf("query uses %d joins; your role allows %d", joins, maxJoins))
	}

	// 5. Sensitive tables.
	for _, t := range tables {
		if v.cfg.IsSensitiveTable(t) {
			verdict.Escalate(fmt.Sprintf("sensitive table %s", t))
		}
	}

	// 6. Cartesian-join guard.
	if HasCartesianRisk(sql) {
		verdict.Escalate("join without a linking predicate risks a cartesian product")
	}

	// 7. Role-based row limit and daily quota.
	if capped, applied := EnforceRowLimit(sql, ticket.DatabaseKind, limits.MaxRows); applied {
		sql = capped
		verdict.AddWarning(fmt.Sprintf("row limit of %d applied for your role", limits.MaxRows))
	}
	// Repair and pivot revalidations re-enter here; only the first
	// validation of a ticket charges the daily quota.
	if limits.DailyQueryQuota > 0 && ticket.Iterations <= 1 {
		key := fmt.Sprintf("quota:%s:%s", ticket.OwnerUser, time.Now().UTC().Format("20060102"))
		count, err := v.store.IncrWithTTL(ctx, key, quotaTTL)
		if err != nil {
			v.logger.Warn("quota counter unavailable, allowing query", "ticket_id", ticket.ID, "error", err)
		} else if count > int64(limits.DailyQueryQuota) {
			verdict.AddError(fmt.Sprintf("daily query quota of %d exhausted", limits.DailyQueryQuota))
			return verdict
		}
	}

	// 8. Row-level security.
	if res, err := v.rls.Enforce(ctx, sql, ticket.OwnerUser, role, nil); err != nil {
		v.logger.Warn("rls enforcement failed", "ticket_id", ticket.ID, "error", err)
		verdict.AddWarning("row-level security could not be applied")
	} else if res.Applied {
		sql = res.ModifiedSQL
		verdict.RLSApplied = true
		if res.Reason != "" {
			verdict.AddWarning("row-level security applied: " + res.Reason)
		}
	}

	// 9. Cost estimate.
	if est, err := v.cost.Estimate(ctx, sql, ticket.DatabaseKind, false); err != nil {
		v.logger.Warn("cost estimation failed", "ticket_id", ticket.ID, "error", err)
		verdict.AddWarning("cost could not be estimated")
	} else {
		verdict.Cost = est
		for _, w := range est.Warnings {
			verdict.AddWarning(w)
		}
		switch {
		case est.Level == v.cfg.Approval.CostLevelBlocking && !isAdmin:
			verdict.RiskLevel = models.RiskCritical
			verdict.AddError("estimated cost is too high to run")
			v.attachRecommendations(verdict, est)
			return verdict
		case est.Level == v.cfg.Approval.CostLevelRequiring:
			verdict.Escalate("estimated cost is high")
			v.attachRecommendations(verdict, est)
		}
		if est.Cardinality > int64(HardRowCap) && !ticket.AutoApprove {
			verdict.Escalate(fmt.Sprintf("expected result of %d rows exceeds %d", est.Cardinality, HardRowCap))
		}
	}

	// 10. Approval gate. Forced escalations override the client preference;
	// the adaptive approver may only relax a non-forced requirement.
	if !verdict.ForceApproval {
		verdict.RequiresApproval = !ticket.AutoApprove
		if verdict.RequiresApproval && v.adaptive != nil &&
			v.adaptive.MayAutoApprove(ctx, ticket.OwnerUser, ticket.SQLHash) {
			verdict.RequiresApproval = false
		}
	}
	for _, lvl := range v.cfg.Approval.RiskLevelsThatRequire {
		if verdict.RiskLevel == lvl {
			verdict.Escalate(fmt.Sprintf("risk level %s requires approval", lvl))
		}
	}

	verdict.RewrittenSQL = sql
	v.logger.Info("validation complete",
		"ticket_id", ticket.ID,
		"valid", verdict.Valid,
		"risk_level", verdict.RiskLevel,
		"requires_approval", verdict.RequiresApproval,
		"tables", len(tables),
		"joins", joins)
	return verdict
}

// attachRecommendations copies at most three actionable recommendations.
func (v *Validator) attachRecommendations(verdict *models.ValidationVerdict, est *models.CostEstimate) {
	recs := est.Recommendations
	if len(recs) > 3 {
		recs = recs[:3]
	}
	for _, r := range recs {
		if !containsString(verdict.RiskReasons, r) {
			verdict.RiskReasons = append(verdict.RiskReasons, r)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// maxSeverityRisk maps the worst finding severity onto a risk level.
func maxSeverityRisk(findings []models.InjectionFinding) models.RiskLevel {
	worst := models.RiskHigh
	for _, f := range findings {
		if f.Severity == models.SeverityCritical {
			worst = models.RiskCritical
		}
	}
	return worst
}

// otherDialect guesses the source dialect for a one-shot conversion: Oracle
// SQL most often arrives with Postgres/Doris constructs and vice versa.
func otherDialect(kind models.DatabaseKind) models.DatabaseKind {
	if kind == models.DatabaseOracle {
		return models.DatabasePostgres
	}
	return models.DatabaseOracle
}
