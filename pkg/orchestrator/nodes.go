package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/querygate/querygate/pkg/executor"
	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/router"
	"github.com/querygate/querygate/pkg/sqlsafe"
)

// pivotStrategies rotate across retry attempts after an execution failure.
var pivotStrategies = []string{
	"simplify the query: fewer columns, no subqueries, direct filters",
	"use an alternate join path or a single table if the join is the problem",
	"aggregate at a coarser grain to reduce the scanned volume",
}

var describePattern = regexp.MustCompile(`(?i)\b(?:describe|schema of|structure of|columns of)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// nodeRoute classifies the request and short-circuits anything that does
// not need SQL.
func (o *Orchestrator) nodeRoute(ctx context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StageRoute

	// The raw request text is scanned before anything can reach a model.
	if scan := sqlsafe.ScanInjection(ticket.Request.Text); scan.Blocked {
		o.logger.Warn("request blocked before synthesis",
			"ticket_id", ticket.ID, "risk_score", scan.RiskScore, "findings", len(scan.Findings))
		ticket.Fail(models.StageRoute, models.ErrKindInjectionBlocked, "request blocked by injection detection")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	snapshot, err := o.schemas.Snapshot(ctx, ticket.DatabaseKind)
	if err != nil {
		o.logger.Warn("schema unavailable during routing", "ticket_id", ticket.ID, "error", err)
		snapshot = nil
	}

	decision := o.router.Classify(ctx, ticket.Request.Text, ticket.Request.History, snapshot)
	ticket.Routing = &decision

	switch decision.Intent {
	case models.IntentConversational, models.IntentAmbiguous:
		reply := decision.CannedReply
		if reply == "" {
			reply = router.ErrorReply()
		}
		ticket.Reply = reply
		ticket.NextAction = models.ActionReply
		return terminal{state: models.StateFinished, payload: map[string]any{"reply": reply}}

	case models.IntentMetadataQuery:
		ticket.Reply = metadataReply(ticket.Request.Text, snapshot)
		ticket.NextAction = models.ActionReply
		return terminal{state: models.StateFinished, payload: map[string]any{"reply": ticket.Reply}}

	default:
		o.bus.Publish(ticket.ID, models.StatePlanning, map[string]any{"intent": decision.Intent})
		return advance{action: models.ActionSynthesize}
	}
}

// nodeSynthesize resolves concepts and generates SQL. Clarifications are
// recoverable terminals, not errors.
func (o *Orchestrator) nodeSynthesize(ctx context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StageSynthesize

	snapshot, err := o.schemas.Snapshot(ctx, ticket.DatabaseKind)
	if err != nil {
		ticket.Fail(models.StageSynthesize, models.ErrKindSchemaUnavailable, "schema metadata is unavailable")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	intent := models.IntentDataQuery
	if ticket.Routing != nil {
		intent = ticket.Routing.Intent
	}
	ticket.Skills = o.skills.Resolve(ticket.Request.Text, intent, snapshot)
	if ticket.Skills.Clarification != nil {
		return o.clarify(ticket, ticket.Skills.Clarification)
	}

	res, err := o.synthesizer.Generate(ctx, ticket, snapshot)
	if err != nil {
		return o.synthesisFailure(ticket, err)
	}
	if res.Clarification != nil {
		return o.clarify(ticket, res.Clarification)
	}

	ticket.SQL = res.SQL
	ticket.SQLHash = hashSQL(res.SQL.Text)
	if ticket.Verdict == nil {
		ticket.Verdict = &models.ValidationVerdict{}
	}
	ticket.Verdict.CostOptimized = res.CostOptimized

	if res.SQL.Confidence < models.ClarificationThreshold {
		return o.clarify(ticket, &models.Clarification{
			Message: fmt.Sprintf(
				"I'm only %d%% confident in the generated query. Could you name the exact columns or tables you mean?",
				res.SQL.Confidence),
		})
	}
	return advance{action: models.ActionValidate}
}

func (o *Orchestrator) synthesisFailure(ticket *models.QueryTicket, err error) outcome {
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case models.ErrKindInvalidIdentifiers:
			// No retry from this branch; the user has to disambiguate.
			return o.clarify(ticket, &models.Clarification{
				Message: perr.Message,
			})
		default:
			ticket.Error = perr
			ticket.NextAction = models.ActionError
			return terminal{state: models.StateError, payload: perr}
		}
	}
	ticket.Fail(models.StageSynthesize, models.ErrKindLLMUnavailable, "SQL generation failed")
	return terminal{state: models.StateError, payload: ticket.Error}
}

// clarify ends the run in the recoverable clarification state. The stream
// closes with a single error frame carrying the clarification details; the
// client resumes via /clarify.
func (o *Orchestrator) clarify(ticket *models.QueryTicket, c *models.Clarification) outcome {
	ticket.Clarification = c
	ticket.NextAction = models.ActionClarify
	return terminal{state: models.StateError, payload: map[string]any{
		"status":                string(models.ErrKindClarificationNeeded),
		"message":               c.Message,
		"clarification_details": c,
	}}
}

// nodeValidate runs the safety pipeline. Entry counts against the
// iteration cap.
func (o *Orchestrator) nodeValidate(ctx context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StageValidate
	ticket.Iterations++
	if !ticket.IterationBudgetLeft() {
		ticket.Fail(models.StageValidate, models.ErrKindIterationLimit, "pipeline iteration limit reached")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	snapshot, err := o.schemas.Snapshot(ctx, ticket.DatabaseKind)
	if err != nil {
		ticket.Fail(models.StageValidate, models.ErrKindSchemaUnavailable, "schema metadata is unavailable")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	verdict := o.validator.Validate(ctx, ticket, ticket.SQL.Text, snapshot, ticket.OwnerRole)
	verdict.CostOptimized = ticket.Verdict != nil && ticket.Verdict.CostOptimized
	ticket.Verdict = verdict

	if !verdict.Valid {
		kind := verdictErrorKind(verdict)
		if kind == models.ErrKindValidationSQLRejected && ticket.RepairAttempts < 1 {
			return advance{action: models.ActionRepair}
		}
		ticket.Error = &models.PipelineError{
			Kind:            kind,
			Message:         strings.Join(verdict.Errors, "; "),
			FailedAt:        string(models.StageValidate),
			SQLAttempted:    ticket.SQL.Text,
			Recommendations: verdict.RiskReasons,
		}
		ticket.NextAction = models.ActionError
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	o.bus.Publish(ticket.ID, models.StatePrepared, map[string]any{
		"sql":        verdict.RewrittenSQL,
		"risk_level": verdict.RiskLevel,
	})

	if (verdict.RequiresApproval || verdict.ForceApproval) && !ticket.Approved {
		o.openApproval(ticket)
		ticket.CurrentStage = models.StageAwaitApproval
		ticket.NextAction = models.ActionAwaitApproval
		return suspendForApproval{}
	}
	return advance{action: models.ActionExecute}
}

func verdictErrorKind(verdict *models.ValidationVerdict) models.ErrorKind {
	joined := strings.ToLower(strings.Join(verdict.Errors, " "))
	switch {
	case len(verdict.InjectionFindings) > 0 && strings.Contains(joined, "injection"):
		return models.ErrKindInjectionBlocked
	case strings.Contains(joined, "quota"):
		return models.ErrKindQuotaExceeded
	case strings.Contains(joined, "cost"):
		return models.ErrKindCostBlocked
	default:
		return models.ErrKindValidationSQLRejected
	}
}

// nodeRepair feeds the validation failure back to the synthesizer. At most
// one repair per ticket.
func (o *Orchestrator) nodeRepair(ctx context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StageRepair
	ticket.RepairAttempts++

	snapshot, err := o.schemas.Snapshot(ctx, ticket.DatabaseKind)
	if err != nil {
		ticket.Fail(models.StageRepair, models.ErrKindSchemaUnavailable, "schema metadata is unavailable")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	failure := "the statement failed validation"
	if ticket.Verdict != nil && len(ticket.Verdict.Errors) > 0 {
		failure = strings.Join(ticket.Verdict.Errors, "; ")
	}
	return o.resynthesize(ctx, ticket, snapshot, failure)
}

// nodeAfterApproval is the resume point once a decision has been made.
func (o *Orchestrator) nodeAfterApproval(_ context.Context, ticket *models.QueryTicket) outcome {
	if ticket.Approved {
		o.bus.Publish(ticket.ID, models.StateApproved, nil)
		return advance{action: models.ActionExecute}
	}
	ticket.NextAction = models.ActionRejected
	return terminal{state: models.StateRejected, payload: nil}
}

// nodeExecute dispatches the validated SQL to the backend.
func (o *Orchestrator) nodeExecute(ctx context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StageExecute
	sql := currentSQL(ticket)
	o.bus.Publish(ticket.ID, models.StateExecuting, map[string]any{"sql": sql})

	result, err := o.exec.Execute(ctx, sql, ticket.DatabaseKind, ticket.ID, o.cfg.Timeouts.DBExecution)
	if err != nil {
		if errors.Is(err, models.ErrBreakerOpen) {
			ticket.Fail(models.StageExecute, models.ErrKindBreakerOpen, "the database backend is temporarily unavailable")
			return terminal{state: models.StateError, payload: ticket.Error}
		}
		var perr *models.PipelineError
		if errors.As(err, &perr) {
			ticket.Error = perr
			ticket.NextAction = models.ActionError
			return terminal{state: models.StateError, payload: perr}
		}
		ticket.Fail(models.StageExecute, models.ErrKindExecutionError, "execution failed")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	ticket.Result = result
	switch result.Status {
	case models.ExecSuccess:
		return advance{action: models.ActionAnalyze}
	case models.ExecTimeout:
		ticket.Fail(models.StageExecute, models.ErrKindExecutionTimeout, result.Message)
		return terminal{state: models.StateError, payload: ticket.Error}
	case models.ExecCancelled:
		ticket.Fail(models.StageExecute, models.ErrKindCancelled, "query was cancelled")
		return terminal{state: models.StateCancelled, payload: nil}
	default:
		if ticket.PivotAttempts < o.cfg.PivotAttempts {
			return advance{action: models.ActionPivot}
		}
		ticket.Fail(models.StageExecute, models.ErrKindExecutionError, result.Message)
		ticket.Error.SQLAttempted = sql
		return terminal{state: models.StateError, payload: ticket.Error}
	}
}

// nodePivot regenerates the SQL after an execution failure, rotating
// through the pivot strategies.
func (o *Orchestrator) nodePivot(ctx context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StagePivot
	ticket.PivotAttempts++

	snapshot, err := o.schemas.Snapshot(ctx, ticket.DatabaseKind)
	if err != nil {
		ticket.Fail(models.StagePivot, models.ErrKindSchemaUnavailable, "schema metadata is unavailable")
		return terminal{state: models.StateError, payload: ticket.Error}
	}

	strategy := pivotStrategies[(ticket.PivotAttempts-1)%len(pivotStrategies)]
	failure := "execution failed"
	if ticket.Result != nil && ticket.Result.Message != "" {
		failure = ticket.Result.Message
	}
	return o.resynthesize(ctx, ticket, snapshot, failure+". Strategy: "+strategy)
}

// resynthesize runs a repair-style generation and routes back to validate.
func (o *Orchestrator) resynthesize(ctx context.Context, ticket *models.QueryTicket, snapshot *models.SchemaSnapshot, failure string) outcome {
	res, err := o.synthesizer.Repair(ctx, ticket, snapshot, currentSQL(ticket), failure)
	if err != nil {
		return o.synthesisFailure(ticket, err)
	}
	if res.Clarification != nil {
		return o.clarify(ticket, res.Clarification)
	}
	ticket.SQL = res.SQL
	ticket.SQLHash = hashSQL(res.SQL.Text)
	return advance{action: models.ActionValidate}
}

// nodeAnalyze finalizes a successful run: data-quality stats and the reply.
func (o *Orchestrator) nodeAnalyze(_ context.Context, ticket *models.QueryTicket) outcome {
	ticket.CurrentStage = models.StageAnalyze
	if ticket.Result != nil {
		ticket.Result.DataQuality = executor.ComputeDataQuality(ticket.Result)
		ticket.Reply = fmt.Sprintf("Query returned %d rows.", ticket.Result.RowCount)
	}
	ticket.NextAction = models.ActionFinished
	return terminal{state: models.StateFinished, payload: map[string]any{
		"row_count": resultRowCount(ticket),
	}}
}

func resultRowCount(ticket *models.QueryTicket) int {
	if ticket.Result == nil {
		return 0
	}
	return ticket.Result.RowCount
}

// metadataReply answers schema questions directly from the snapshot.
func metadataReply(text string, snapshot *models.SchemaSnapshot) string {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return "No schema information is available for this connection yet."
	}
	if m := describePattern.FindStringSubmatch(text); m != nil {
		if t, ok := snapshot.Table(m[1]); ok {
			var b strings.Builder
			fmt.Fprintf(&b, "Table %s has %d columns:", t.Name, len(t.Columns))
			for _, col := range t.Columns {
				fmt.Fprintf(&b, "\n- %s (%s)", col.Name, col.Type)
			}
			return b.String()
		}
		return fmt.Sprintf("I don't know a table called %q.", m[1])
	}
	names := snapshot.TableNames()
	return fmt.Sprintf("Available tables (%d): %s.", len(names), strings.Join(names, ", "))
}
