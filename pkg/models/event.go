package models

import "time"

// TicketState is the lifecycle state published on the event bus. Ordering
// within a ticket is strictly monotonic.
type TicketState string

const (
	StateReceived        TicketState = "received"
	StatePlanning        TicketState = "planning"
	StatePrepared        TicketState = "prepared"
	StatePendingApproval TicketState = "pending_approval"
	StateApproved        TicketState = "approved"
	StateExecuting       TicketState = "executing"
	StateFinished        TicketState = "finished"
	StateError           TicketState = "error"
	StateCancelled       TicketState = "cancelled"
	StateRejected        TicketState = "rejected"
)

// Terminal reports whether the state closes the ticket's event stream.
func (s TicketState) Terminal() bool {
	switch s {
	case StateFinished, StateError, StateCancelled, StateRejected:
		return true
	}
	return false
}

// EventRecord is one SSE frame for a ticket's lifecycle stream.
type EventRecord struct {
	TicketID  string      `json:"ticket_id"`
	State     TicketState `json:"state"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}
