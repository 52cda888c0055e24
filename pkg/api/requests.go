package api

// SubmitQueryRequest is the body of POST /queries/submit.
type SubmitQueryRequest struct {
	Query          string `json:"query"`
	ConnectionName string `json:"connection_name,omitempty"`
	DatabaseType   string `json:"database_type"`
}

// ProcessQueryRequest is the body of POST /queries/process.
type ProcessQueryRequest struct {
	Query        string `json:"query"`
	UserID       string `json:"user_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	DatabaseType string `json:"database_type,omitempty"`
	AutoApprove  *bool  `json:"auto_approve,omitempty"`
}

// ApproveQueryRequest is the body of POST /queries/{id}/approve.
type ApproveQueryRequest struct {
	Approved           bool   `json:"approved"`
	ModifiedSQL        string `json:"modified_sql,omitempty"`
	RejectionReason    string `json:"rejection_reason,omitempty"`
	DecisionReason     string `json:"decision_reason,omitempty"`
	ConstraintsApplied string `json:"constraints_applied,omitempty"`
}

// CancelQueryRequest is the body of POST /queries/{id}/cancel.
type CancelQueryRequest struct {
	QueryID string `json:"query_id"`
}

// ClarifyQueryRequest is the body of POST /queries/clarify.
type ClarifyQueryRequest struct {
	QueryID       string `json:"query_id"`
	Clarification string `json:"clarification"`
	OriginalQuery string `json:"original_query,omitempty"`
	DatabaseType  string `json:"database_type,omitempty"`
}
