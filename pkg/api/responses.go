package api

import (
	"time"

	"github.com/querygate/querygate/pkg/executor"
	"github.com/querygate/querygate/pkg/models"
)

// Response status values.
const (
	StatusSuccess         = "success"
	StatusError           = "error"
	StatusPendingApproval = "pending_approval"
	StatusClarification   = "clarification_needed"
	StatusRejected        = "rejected"
	StatusCancelled       = "cancelled"
)

// ErrorDetails is the llm_metadata.error_details payload.
type ErrorDetails struct {
	Message       string `json:"message"`
	FailedAt      string `json:"failed_at,omitempty"`
	SQLAttempted  string `json:"sql_attempted,omitempty"`
	ErrorTaxonomy string `json:"error_taxonomy"`
}

// LLMMetadata carries model bookkeeping for a processed query.
type LLMMetadata struct {
	WasCached    bool          `json:"was_cached,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
}

// SubmitResponse is the body of POST /queries/submit.
type SubmitResponse struct {
	QueryID         string                  `json:"query_id"`
	Status          string                  `json:"status"`
	Message         string                  `json:"message"`
	SQL             string                  `json:"sql,omitempty"`
	Results         *models.ExecutionResult `json:"results,omitempty"`
	ExecutionTimeMs int64                   `json:"execution_time_ms,omitempty"`
	Timestamp       time.Time               `json:"timestamp"`
}

// ProcessResponse is the canonical envelope for /process, /approve, and
// /clarify.
type ProcessResponse struct {
	QueryID                 string                    `json:"query_id"`
	Status                  string                    `json:"status"`
	SQLQuery                string                    `json:"sql_query,omitempty"`
	Validation              *models.ValidationVerdict `json:"validation,omitempty"`
	Results                 *models.ExecutionResult   `json:"results,omitempty"`
	Visualization           string                    `json:"visualization,omitempty"`
	NeedsApproval           bool                      `json:"needs_approval"`
	LLMMetadata             *LLMMetadata              `json:"llm_metadata,omitempty"`
	Error                   string                    `json:"error,omitempty"`
	ClarificationMessage    string                    `json:"clarification_message,omitempty"`
	ClarificationDetails    *models.Clarification     `json:"clarification_details,omitempty"`
	SQLConfidence           int                       `json:"sql_confidence,omitempty"`
	OptimizationSuggestions []string                  `json:"optimization_suggestions,omitempty"`
	Reply                   string                    `json:"reply,omitempty"`
}

// RejectResponse is the body of POST /queries/{id}/reject.
type RejectResponse struct {
	QueryID   string    `json:"query_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CancelResponse is the body of POST /queries/{id}/cancel.
type CancelResponse struct {
	QueryID   string `json:"query_id"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

// StatusResponse is the body of GET /queries/{id}/status.
type StatusResponse struct {
	QueryID  string            `json:"query_id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ConnectionInfo describes one configured backend.
type ConnectionInfo struct {
	Name         string `json:"name"`
	DatabaseType string `json:"database_type"`
	Healthy      bool   `json:"healthy"`
}

// ConnectionsResponse is the body of GET /connections.
type ConnectionsResponse struct {
	Status      string           `json:"status"`
	Connections []ConnectionInfo `json:"connections"`
}

// buildProcessResponse folds a finished or suspended ticket into the
// canonical envelope.
func buildProcessResponse(ticket *models.QueryTicket) *ProcessResponse {
	resp := &ProcessResponse{QueryID: ticket.ID}

	if ticket.SQL != nil {
		resp.SQLQuery = ticket.SQL.Text
		resp.SQLConfidence = ticket.SQL.Confidence
		if ticket.SQL.WasCached {
			resp.LLMMetadata = &LLMMetadata{WasCached: true}
		}
	}
	if ticket.Verdict != nil {
		resp.Validation = ticket.Verdict
		if ticket.Verdict.RewrittenSQL != "" {
			resp.SQLQuery = ticket.Verdict.RewrittenSQL
		}
		if ticket.Verdict.Cost != nil {
			resp.OptimizationSuggestions = ticket.Verdict.Cost.Recommendations
		}
	}
	resp.Reply = ticket.Reply

	switch {
	case ticket.Error != nil:
		resp.Status = StatusError
		if ticket.Error.Kind == models.ErrKindCancelled {
			resp.Status = StatusCancelled
		}
		resp.Error = string(ticket.Error.Kind)
		if resp.LLMMetadata == nil {
			resp.LLMMetadata = &LLMMetadata{}
		}
		resp.LLMMetadata.ErrorDetails = &ErrorDetails{
			Message:       ticket.Error.Message,
			FailedAt:      ticket.Error.FailedAt,
			SQLAttempted:  ticket.Error.SQLAttempted,
			ErrorTaxonomy: string(ticket.Error.Kind),
		}

	case ticket.NextAction == models.ActionAwaitApproval:
		resp.Status = StatusPendingApproval
		resp.NeedsApproval = true

	case ticket.NextAction == models.ActionRejected:
		resp.Status = StatusRejected

	case ticket.Clarification != nil:
		resp.Status = StatusClarification
		resp.ClarificationMessage = ticket.Clarification.Message
		resp.ClarificationDetails = ticket.Clarification

	default:
		resp.Status = StatusSuccess
		resp.Results = ticket.Result
		if ticket.Result != nil {
			resp.Visualization = string(executor.SuggestVisualization(ticket.Result))
		}
	}
	return resp
}
