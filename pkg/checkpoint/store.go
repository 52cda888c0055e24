// Package checkpoint persists ticket state between pipeline nodes so a
// suspended ticket can resume after approval or a process restart.
package checkpoint

import (
	"context"
	"errors"

	"github.com/querygate/querygate/pkg/models"
)

// ErrNotFound is returned for unknown thread ids; the orchestrator treats it
// as a cold start.
var ErrNotFound = errors.New("checkpoint: thread not found")

// ErrRevisionConflict is returned when a CAS put lost a race.
var ErrRevisionConflict = errors.New("checkpoint: revision conflict")

// Store is the checkpointer contract. Put is CAS on ticket.Revision: the
// stored revision must equal Revision-1 (or the thread must be absent for
// revision 1).
type Store interface {
	Get(ctx context.Context, threadID string) (*models.QueryTicket, error)
	Put(ctx context.Context, ticket *models.QueryTicket) error
	List(ctx context.Context, threadIDPrefix string) ([]string, error)
	Delete(ctx context.Context, threadID string) error
}
