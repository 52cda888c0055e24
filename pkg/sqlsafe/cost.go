package sqlsafe

import (
	"context"
	"regexp"

	"github.com/querygate/querygate/pkg/models"
)

// Estimator predicts the cost of running a statement. Implementations may
// consult the backend's planner; the heuristic estimator below works from
// the SQL text alone.
type Estimator interface {
	Estimate(ctx context.Context, sql string, dialect models.DatabaseKind, includePlan bool) (*models.CostEstimate, error)
}

// HeuristicEstimator grades cost from statement shape: join fan-out,
// filter presence, aggregation, and explicit row bounds. It never talks to
// a database and never fails.
type HeuristicEstimator struct{}

// NewHeuristicEstimator builds the planless estimator.
func NewHeuristicEstimator() *HeuristicEstimator { return &HeuristicEstimator{} }

var (
	wherePattern    = regexp.MustCompile(`(?i)\bwhere\b`)
	distinctPattern = regexp.MustCompile(`(?i)\bselect\s+distinct\b`)
	likeWildcard    = regexp.MustCompile(`(?i)\blike\s+'%`)
	groupByPattern  = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
)

// Estimate assigns a unitless cost, an expected cardinality, and a level.
func (e *HeuristicEstimator) Estimate(_ context.Context, sql string, _ models.DatabaseKind, _ bool) (*models.CostEstimate, error) {
	cleaned := StripLiteralsAndComments(sql)
	est := &models.CostEstimate{TotalCost: 10, Cardinality: 100}

	tables := len(ReferencedTables(cleaned))
	joins := CountJoins(cleaned)
	hasWhere := wherePattern.MatchString(cleaned)
	hasGroup := groupByPattern.MatchString(cleaned)
	limit := ExistingLimit(sql)

	est.TotalCost += float64(tables) * 25
	est.TotalCost += float64(joins) * 50

	if !hasWhere {
		est.HasFullScan = true
		est.TotalCost *= 3
		est.Cardinality = 50000
		est.Warnings = append(est.Warnings, "no WHERE clause; full table scan likely")
		est.Recommendations = append(est.Recommendations, "add a filter predicate to narrow the scan")
	}
	// Matched against the raw SQL: the wildcard lives inside the literal.
	if likeWildcard.MatchString(sql) {
		est.TotalCost *= 1.5
		est.Warnings = append(est.Warnings, "leading-wildcard LIKE prevents index use")
		est.Recommendations = append(est.Recommendations, "anchor the LIKE pattern or use a prefix match")
	}
	if distinctPattern.MatchString(cleaned) {
		est.TotalCost += 40
	}
	if HasCartesianRisk(cleaned) {
		est.TotalCost *= 5
		est.Cardinality *= int64(max(tables, 2)) * 100
		est.Warnings = append(est.Warnings, "join without predicate multiplies row counts")
		est.Recommendations = append(est.Recommendations, "add ON conditions to every join")
	}

	if hasGroup {
		// Aggregation collapses cardinality even over wide scans.
		est.Cardinality = min(est.Cardinality, 1000)
	}
	if limit > 0 {
		est.Cardinality = min(est.Cardinality, int64(limit))
	}

	switch {
	case est.TotalCost < 100:
		est.Level = models.CostLow
	case est.TotalCost < 400:
		est.Level = models.CostMedium
	case est.TotalCost < 1500:
		est.Level = models.CostHigh
	default:
		est.Level = models.CostCritical
	}
	return est, nil
}
