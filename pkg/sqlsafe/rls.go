package sqlsafe

import "context"

// RLSResult carries the row-level security collaborator's decision.
type RLSResult struct {
	ModifiedSQL     string   `json:"modified_sql"`
	Applied         bool     `json:"applied"`
	Reason          string   `json:"reason,omitempty"`
	PoliciesApplied []string `json:"policies_applied,omitempty"`
}

// RLSEnforcer rewrites SQL to add per-user predicates. Implementations are
// deployment-specific; the gateway ships a pass-through.
type RLSEnforcer interface {
	Enforce(ctx context.Context, sql, userID, role string, attributes map[string]string) (RLSResult, error)
}

// NoopRLS applies no policies and returns the SQL unchanged.
type NoopRLS struct{}

// NewNoopRLS builds the pass-through enforcer.
func NewNoopRLS() *NoopRLS { return &NoopRLS{} }

func (n *NoopRLS) Enforce(_ context.Context, sql, _, _ string, _ map[string]string) (RLSResult, error) {
	return RLSResult{ModifiedSQL: sql, Applied: false}, nil
}
