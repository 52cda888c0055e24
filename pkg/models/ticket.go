// Package models defines the typed records that flow through the query
// pipeline: tickets, schema snapshots, generated SQL, validation verdicts,
// execution results, and event frames.
package models

import (
	"fmt"
	"regexp"
	"time"
)

// DatabaseKind identifies the target backend dialect.
type DatabaseKind string

const (
	DatabaseOracle   DatabaseKind = "oracle"
	DatabasePostgres DatabaseKind = "postgres"
	DatabaseDoris    DatabaseKind = "doris"
)

// Valid reports whether the kind is one of the supported backends.
func (k DatabaseKind) Valid() bool {
	switch k {
	case DatabaseOracle, DatabasePostgres, DatabaseDoris:
		return true
	}
	return false
}

// Stage identifies the pipeline node a ticket is currently in.
type Stage string

const (
	StageReceive       Stage = "receive"
	StageRoute         Stage = "route"
	StageSynthesize    Stage = "synthesize"
	StageValidate      Stage = "validate"
	StageRepair        Stage = "repair"
	StageAwaitApproval Stage = "await_approval"
	StageExecute       Stage = "execute"
	StagePivot         Stage = "pivot"
	StageAnalyze       Stage = "analyze"
)

// NextAction is the orchestrator's decision after a node completes.
type NextAction string

const (
	ActionRoute         NextAction = "route"
	ActionSynthesize    NextAction = "synthesize"
	ActionValidate      NextAction = "validate"
	ActionRepair        NextAction = "repair"
	ActionExecute       NextAction = "execute"
	ActionAwaitApproval NextAction = "await_approval"
	ActionClarify       NextAction = "request_clarification"
	ActionPivot         NextAction = "pivot"
	ActionAnalyze       NextAction = "analyze"
	ActionReply         NextAction = "reply"
	ActionError         NextAction = "error"
	ActionFinished      NextAction = "finished"
	ActionRejected      NextAction = "rejected"
)

// DefaultMaxIterations bounds validate entries per ticket (loop prevention).
const DefaultMaxIterations = 40

var ticketIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidateTicketID checks the opaque ticket id format: 8-64 chars of
// [A-Za-z0-9_-].
func ValidateTicketID(id string) error {
	if !ticketIDPattern.MatchString(id) {
		return fmt.Errorf("invalid ticket id %q: must match [A-Za-z0-9_-]{8,64}", id)
	}
	return nil
}

// QueryTicket is the durable unit of work. The orchestrator exclusively owns
// a ticket for the lifetime of a single pipeline run; the checkpointer owns
// durable copies. A ticket transitions only forward through the state machine
// except for the explicit repair/pivot/retry edges.
type QueryTicket struct {
	ID           string       `json:"id"`
	OwnerUser    string       `json:"owner_user"`
	OwnerRole    string       `json:"owner_role"`
	SessionID    string       `json:"session_id"`
	CreatedAt    time.Time    `json:"created_at"`
	CurrentStage Stage        `json:"current_stage"`
	NextAction   NextAction   `json:"next_action"`
	Iterations   int          `json:"iteration_count"`
	MaxIters     int          `json:"max_iterations"`
	TraceID      string       `json:"trace_id"`
	DatabaseKind DatabaseKind `json:"database_kind"`
	AutoApprove  bool         `json:"auto_approve"`

	// Pipeline working state, carried across checkpoints.
	Request       UserRequest        `json:"request"`
	Routing       *RoutingDecision   `json:"routing,omitempty"`
	Skills        *SkillsOutput      `json:"skills,omitempty"`
	SQL           *GeneratedSQL      `json:"sql,omitempty"`
	Verdict       *ValidationVerdict `json:"verdict,omitempty"`
	Result        *ExecutionResult   `json:"result,omitempty"`
	Clarification *Clarification     `json:"clarification,omitempty"`
	Reply         string             `json:"reply,omitempty"`

	// Bounded retry bookkeeping.
	RepairAttempts int `json:"repair_attempts"`
	PivotAttempts  int `json:"pivot_attempts"`

	// Approval bookkeeping.
	Approved bool   `json:"approved"`
	SQLHash  string `json:"sql_hash,omitempty"`

	// Terminal error, if any.
	Error *PipelineError `json:"error,omitempty"`

	// Revision supports CAS in the checkpoint store.
	Revision int64 `json:"revision"`
}

// IterationBudgetLeft reports whether another validate entry is allowed.
func (t *QueryTicket) IterationBudgetLeft() bool {
	limit := t.MaxIters
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	return t.Iterations < limit
}

// Fail records a terminal error on the ticket.
func (t *QueryTicket) Fail(stage Stage, kind ErrorKind, message string) {
	t.CurrentStage = stage
	t.NextAction = ActionError
	t.Error = &PipelineError{Kind: kind, Message: message, FailedAt: string(stage)}
}

// ConversationTurn is one entry of prior conversation history.
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	maxHistoryTurns  = 50
	maxTurnBytes     = 10000
	maxQuestionBytes = 10000
)

// UserRequest is the natural-language prompt plus optional conversation
// history. Immutable after acceptance.
type UserRequest struct {
	Text    string             `json:"text"`
	History []ConversationTurn `json:"history,omitempty"`
}

// Validate enforces the acceptance limits on a user request.
func (r *UserRequest) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("%w: query text is empty", ErrValidation)
	}
	if len(r.Text) > maxQuestionBytes {
		return fmt.Errorf("%w: query text exceeds %d bytes", ErrValidation, maxQuestionBytes)
	}
	if len(r.History) > maxHistoryTurns {
		return fmt.Errorf("%w: history exceeds %d turns", ErrValidation, maxHistoryTurns)
	}
	for i, turn := range r.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			return fmt.Errorf("%w: history[%d] role %q is not user/assistant", ErrValidation, i, turn.Role)
		}
		if len(turn.Content) > maxTurnBytes {
			return fmt.Errorf("%w: history[%d] exceeds %d bytes", ErrValidation, i, maxTurnBytes)
		}
	}
	return nil
}

// ApprovalToken is the session-bound record for a pending approval. A single
// ticket has at most one undecided token; any re-decision is rejected with a
// duplicate error.
type ApprovalToken struct {
	TicketID        string    `json:"ticket_id"`
	SessionID       string    `json:"session_id"`
	IP              string    `json:"ip"`
	UserAgent       string    `json:"user_agent"`
	CreatedAt       time.Time `json:"created_at"`
	OriginalSQLHash string    `json:"original_sql_hash"`
	Decided         bool      `json:"decided"`
}
