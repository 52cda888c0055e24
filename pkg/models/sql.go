package models

// GeneratedSQL is the synthesizer's output. Confidence < 70 forces a
// clarification branch; >= 70 proceeds to validation.
type GeneratedSQL struct {
	Text                  string       `json:"text"`
	Confidence            int          `json:"confidence"` // 0..100
	Dialect               DatabaseKind `json:"dialect"`
	IdentifiersNormalized bool         `json:"identifiers_normalized"`
	DialectConvertedFrom  string       `json:"dialect_converted_from,omitempty"`
	WasCached             bool         `json:"was_cached"`
}

// ClarificationThreshold is the minimum synthesizer confidence that proceeds
// to validation.
const ClarificationThreshold = 70

// RiskLevel grades how dangerous a query looks.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// QueryKind is the statement class of a SQL text.
type QueryKind string

const (
	QuerySelect QueryKind = "SELECT"
	QueryDDL    QueryKind = "DDL"
	QueryDML    QueryKind = "DML"
	QueryOther  QueryKind = "OTHER"
)

// FindingSeverity grades one injection finding.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityHigh     FindingSeverity = "high"
	SeverityMedium   FindingSeverity = "medium"
	SeverityLow      FindingSeverity = "low"
)

// InjectionFinding is one hit from the injection scanner.
type InjectionFinding struct {
	Kind       string          `json:"kind"`
	Severity   FindingSeverity `json:"severity"`
	Pattern    string          `json:"pattern"`
	Confidence int             `json:"confidence"` // 0..100
	Mitigation string          `json:"mitigation,omitempty"`
}

// CostLevel grades an estimated query cost.
type CostLevel string

const (
	CostLow      CostLevel = "LOW"
	CostMedium   CostLevel = "MEDIUM"
	CostHigh     CostLevel = "HIGH"
	CostCritical CostLevel = "CRITICAL"
)

// CostEstimate is the cost estimator collaborator's output.
type CostEstimate struct {
	TotalCost       float64   `json:"total_cost"`
	Cardinality     int64     `json:"cardinality"`
	Level           CostLevel `json:"level"`
	HasFullScan     bool      `json:"has_full_scan"`
	Warnings        []string  `json:"warnings,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Plan            string    `json:"plan,omitempty"`
}

// ScopeInfo summarizes table/join counts against the role's limits.
type ScopeInfo struct {
	TableCount int `json:"table_count"`
	JoinCount  int `json:"join_count"`
	MaxTables  int `json:"max_tables"`
	MaxJoins   int `json:"max_joins"`
	MaxRows    int `json:"max_rows"`
}

// ValidationVerdict is the validator pipeline's aggregate decision.
type ValidationVerdict struct {
	Valid             bool               `json:"valid"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	QueryKind         QueryKind          `json:"query_kind"`
	RequiresApproval  bool               `json:"requires_approval"`
	ForceApproval     bool               `json:"force_approval"`
	Warnings          []string           `json:"warnings,omitempty"`
	Errors            []string           `json:"errors,omitempty"`
	Scope             ScopeInfo          `json:"scope_info"`
	InjectionFindings []InjectionFinding `json:"injection_findings,omitempty"`
	Cost              *CostEstimate      `json:"cost_estimate,omitempty"`
	RiskReasons       []string           `json:"risk_reasons,omitempty"`
	RewrittenSQL      string             `json:"rewritten_sql,omitempty"`
	RLSApplied        bool               `json:"rls_applied"`
	CostOptimized     bool               `json:"cost_optimized"`
}

// AddWarning appends a warning, preserving order.
func (v *ValidationVerdict) AddWarning(w string) { v.Warnings = append(v.Warnings, w) }

// AddError appends a terminal error and marks the verdict invalid.
func (v *ValidationVerdict) AddError(e string) {
	v.Errors = append(v.Errors, e)
	v.Valid = false
}

// Escalate forces the approval gate with a human-readable reason. Adaptive
// approval never overrides a forced escalation.
func (v *ValidationVerdict) Escalate(reason string) {
	v.ForceApproval = true
	v.RequiresApproval = true
	v.RiskReasons = append(v.RiskReasons, reason)
}
