// Package orchestrator drives the durable, resumable query pipeline: a DAG
// of nodes over a QueryTicket with interrupt-before-approval semantics,
// bounded repair and pivot retries, and a checkpoint after every node.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/querygate/querygate/pkg/checkpoint"
	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/events"
	"github.com/querygate/querygate/pkg/executor"
	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/router"
	"github.com/querygate/querygate/pkg/schema"
	"github.com/querygate/querygate/pkg/skills"
	"github.com/querygate/querygate/pkg/sqlsafe"
	"github.com/querygate/querygate/pkg/synth"
	"github.com/querygate/querygate/pkg/trace"
)

// checkpointRetries bounds CAS retry attempts with exponential backoff.
const checkpointRetries = 3

// outcome is what a node decides: advance, suspend for approval, or stop.
type outcome interface{ isOutcome() }

// advance moves the machine to the next node.
type advance struct{ action models.NextAction }

// suspendForApproval pauses the machine before the approval node.
type suspendForApproval struct{}

// terminal ends the run and publishes the closing frame.
type terminal struct {
	state   models.TicketState
	payload any
}

func (advance) isOutcome()            {}
func (suspendForApproval) isOutcome() {}
func (terminal) isOutcome()           {}

// Orchestrator owns tickets for the lifetime of one pipeline run.
type Orchestrator struct {
	cfg         *config.Config
	router      *router.Router
	skills      *skills.Engine
	schemas     *schema.Service
	synthesizer *synth.Synthesizer
	validator   *sqlsafe.Validator
	exec        *executor.Facade
	bus         *events.Bus
	checkpoints checkpoint.Store
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	tokens  map[string]*models.ApprovalToken
}

// New wires the pipeline from its collaborators.
func New(cfg *config.Config, rt *router.Router, eng *skills.Engine, schemas *schema.Service, syn *synth.Synthesizer, val *sqlsafe.Validator, exec *executor.Facade, bus *events.Bus, cps checkpoint.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		router:      rt,
		skills:      eng,
		schemas:     schemas,
		synthesizer: syn,
		validator:   val,
		exec:        exec,
		bus:         bus,
		checkpoints: cps,
		logger:      logger.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) init() {
	if o.running == nil {
		o.running = map[string]context.CancelFunc{}
	}
	if o.tokens == nil {
		o.tokens = map[string]*models.ApprovalToken{}
	}
}

// Submit starts a fresh ticket through the pipeline and blocks until the
// ticket reaches a terminal state or suspends for approval.
func (o *Orchestrator) Submit(ctx context.Context, ticket *models.QueryTicket) (*models.QueryTicket, error) {
	if err := models.ValidateTicketID(ticket.ID); err != nil {
		return nil, err
	}
	if ticket.MaxIters <= 0 {
		ticket.MaxIters = o.cfg.MaxIterations
	}
	ticket.CreatedAt = time.Now().UTC()
	ticket.CurrentStage = models.StageReceive
	ticket.NextAction = models.ActionRoute

	runCtx, cancel := o.track(ticket.ID)
	defer o.untrack(ticket.ID)
	_ = ctx // the run owns its own cancellation lifetime

	o.bus.Register(ticket.ID, map[string]string{
		"owner": ticket.OwnerUser,
		"role":  ticket.OwnerRole,
	}, cancel)
	o.bus.Publish(ticket.ID, models.StateReceived, nil)

	return o.run(runCtx, ticket)
}

// Resume re-enters a suspended ticket after an approval decision. No new
// input: the ticket's own state decides the next node.
func (o *Orchestrator) Resume(_ context.Context, ticket *models.QueryTicket) (*models.QueryTicket, error) {
	runCtx, _ := o.track(ticket.ID)
	defer o.untrack(ticket.ID)
	return o.run(runCtx, ticket)
}

// track registers a cancellable run context for the ticket.
func (o *Orchestrator) track(ticketID string) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.init()
	o.running[ticketID] = cancel
	o.mu.Unlock()
	return runCtx, cancel
}

func (o *Orchestrator) untrack(ticketID string) {
	o.mu.Lock()
	delete(o.running, ticketID)
	o.mu.Unlock()
}

// run executes nodes until suspension or a terminal state. Node failures
// never propagate as panics or errors across node boundaries; each node
// records its own error on the ticket.
func (o *Orchestrator) run(ctx context.Context, ticket *models.QueryTicket) (*models.QueryTicket, error) {
	for {
		if ctx.Err() != nil {
			return o.finishCancelled(ctx, ticket)
		}

		var out outcome
		spanCtx, span := trace.StartSpan(ctx, "node."+string(ticket.NextAction), ticket.ID)
		switch ticket.NextAction {
		case models.ActionRoute:
			out = o.nodeRoute(spanCtx, ticket)
		case models.ActionSynthesize:
			out = o.nodeSynthesize(spanCtx, ticket)
		case models.ActionValidate:
			out = o.nodeValidate(spanCtx, ticket)
		case models.ActionRepair:
			out = o.nodeRepair(spanCtx, ticket)
		case models.ActionAwaitApproval:
			out = o.nodeAfterApproval(spanCtx, ticket)
		case models.ActionExecute:
			out = o.nodeExecute(spanCtx, ticket)
		case models.ActionPivot:
			out = o.nodePivot(spanCtx, ticket)
		case models.ActionAnalyze:
			out = o.nodeAnalyze(spanCtx, ticket)
		default:
			ticket.Fail(ticket.CurrentStage, models.ErrKindExecutionError, "unknown pipeline action")
			out = terminal{state: models.StateError, payload: ticket.Error}
		}
		span.End()

		o.persist(ctx, ticket)

		switch v := out.(type) {
		case advance:
			ticket.NextAction = v.action
		case suspendForApproval:
			o.bus.Publish(ticket.ID, models.StatePendingApproval, map[string]any{
				"sql":          currentSQL(ticket),
				"risk_reasons": riskReasons(ticket),
			})
			return ticket, nil
		case terminal:
			if ctx.Err() != nil && v.state != models.StateCancelled {
				return o.finishCancelled(ctx, ticket)
			}
			o.bus.Publish(ticket.ID, v.state, v.payload)
			return ticket, nil
		}
	}
}

func (o *Orchestrator) finishCancelled(_ context.Context, ticket *models.QueryTicket) (*models.QueryTicket, error) {
	ticket.Fail(ticket.CurrentStage, models.ErrKindCancelled, "ticket cancelled")
	o.persist(context.Background(), ticket)
	o.bus.Publish(ticket.ID, models.StateCancelled, nil)
	return ticket, nil
}

// persist checkpoints the ticket with bounded CAS retries. A checkpoint
// failure is logged and the run continues; durability degrades, the
// pipeline does not.
func (o *Orchestrator) persist(ctx context.Context, ticket *models.QueryTicket) {
	ticket.Revision++
	backoff := 50 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := o.checkpoints.Put(ctx, ticket)
		if err == nil {
			return
		}
		if attempt >= checkpointRetries {
			o.logger.Error("checkpoint failed, continuing without durability",
				"ticket_id", ticket.ID, "revision", ticket.Revision, "error", err)
			return
		}
		o.logger.Warn("checkpoint retry", "ticket_id", ticket.ID, "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}
}

// Cancel aborts a running ticket cooperatively and best-effort kills its
// in-flight backend session.
func (o *Orchestrator) Cancel(ticketID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[ticketID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()

	killCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := o.exec.Cancel(killCtx, ticketID); err != nil {
		o.logger.Warn("backend session kill failed", "ticket_id", ticketID, "error", err)
	}
	return true
}

// hashSQL fingerprints a statement for approval bookkeeping.
func hashSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

func currentSQL(ticket *models.QueryTicket) string {
	if ticket.Verdict != nil && ticket.Verdict.RewrittenSQL != "" {
		return ticket.Verdict.RewrittenSQL
	}
	if ticket.SQL != nil {
		return ticket.SQL.Text
	}
	return ""
}

func riskReasons(ticket *models.QueryTicket) []string {
	if ticket.Verdict == nil {
		return nil
	}
	return ticket.Verdict.RiskReasons
}
