package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/querygate/querygate/pkg/checkpoint"
	"github.com/querygate/querygate/pkg/models"
)

// Decision is the approval API input.
type Decision struct {
	Approved    bool
	ModifiedSQL string
	SessionID   string
	IP          string
	UserAgent   string
}

// openApproval records the single undecided token for a suspended ticket.
func (o *Orchestrator) openApproval(ticket *models.QueryTicket) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.tokens[ticket.ID] = &models.ApprovalToken{
		TicketID:        ticket.ID,
		SessionID:       ticket.SessionID,
		CreatedAt:       time.Now().UTC(),
		OriginalSQLHash: ticket.SQLHash,
	}
}

// takeDecision marks the ticket's token decided. A second decision for the
// same ticket is a duplicate regardless of the submitted SQL.
func (o *Orchestrator) takeDecision(ticketID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	token, ok := o.tokens[ticketID]
	if !ok {
		return models.ErrNotFound
	}
	if token.Decided {
		return models.ErrDuplicateApproval
	}
	token.Decided = true
	return nil
}

// Decide applies an approval or rejection to a suspended ticket and resumes
// the pipeline. The caller has already authenticated and checked ownership.
func (o *Orchestrator) Decide(ctx context.Context, ticketID string, d Decision) (*models.QueryTicket, error) {
	ticket, err := o.checkpoints.Get(ctx, ticketID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if ticket.NextAction != models.ActionAwaitApproval {
		return nil, models.ErrDuplicateApproval
	}
	if err := o.takeDecision(ticketID); err != nil {
		return nil, err
	}

	if !d.Approved {
		ticket.Approved = false
		ticket.NextAction = models.ActionAwaitApproval
		// Resume lands in nodeAfterApproval, which publishes rejected.
		return o.Resume(ctx, ticket)
	}

	ticket.Approved = true
	if d.ModifiedSQL != "" && ticket.SQL != nil {
		// A modified statement re-runs validation before execution.
		ticket.SQL.Text = d.ModifiedSQL
		ticket.SQLHash = hashSQL(d.ModifiedSQL)
		ticket.NextAction = models.ActionValidate
	}
	return o.Resume(ctx, ticket)
}

// Clarify resumes a clarification-suspended conversation: the new context
// is appended to the request and the pipeline re-runs under the same
// thread id, preserving history.
func (o *Orchestrator) Clarify(ctx context.Context, ticketID, clarification string) (*models.QueryTicket, error) {
	ticket, err := o.checkpoints.Get(ctx, ticketID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if ticket.Clarification == nil {
		return nil, fmt.Errorf("%w: ticket is not awaiting clarification", models.ErrValidation)
	}

	ticket.Request.History = append(ticket.Request.History,
		models.ConversationTurn{Role: "assistant", Content: ticket.Clarification.Message},
		models.ConversationTurn{Role: "user", Content: clarification},
	)
	ticket.Request.Text = ticket.Request.Text + ". " + clarification
	ticket.Clarification = nil
	ticket.SQL = nil
	ticket.Verdict = nil
	ticket.Result = nil
	ticket.Skills = nil

	runCtx, cancel := o.track(ticket.ID)
	defer o.untrack(ticket.ID)
	o.bus.Register(ticket.ID, map[string]string{
		"owner": ticket.OwnerUser,
		"role":  ticket.OwnerRole,
	}, cancel)
	o.bus.Publish(ticket.ID, models.StateReceived, nil)
	ticket.CurrentStage = models.StageReceive
	ticket.NextAction = models.ActionRoute
	return o.run(runCtx, ticket)
}

// Lookup returns the durable ticket for status queries.
func (o *Orchestrator) Lookup(ctx context.Context, ticketID string) (*models.QueryTicket, error) {
	ticket, err := o.checkpoints.Get(ctx, ticketID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return ticket, nil
}
