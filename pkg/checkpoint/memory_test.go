package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/models"
)

func ticketRev(id string, rev int64) *models.QueryTicket {
	return &models.QueryTicket{
		ID:           id,
		OwnerUser:    "alice",
		DatabaseKind: models.DatabasePostgres,
		NextAction:   models.ActionValidate,
		Revision:     rev,
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 1)))

	got, err := s.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerUser)
	assert.Equal(t, models.ActionValidate, got.NextAction)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 1)))

	first, err := s.Get(ctx, "thread-1")
	require.NoError(t, err)
	first.OwnerUser = "mallory"

	second, err := s.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", second.OwnerUser)
}

func TestMemoryStore_CASAcceptsSequentialRevisions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 1)))
	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 2)))
	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 3)))
}

func TestMemoryStore_CASRejectsStaleRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 1)))
	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 2)))

	// Replaying revision 2 loses the CAS race.
	assert.ErrorIs(t, s.Put(ctx, ticketRev("thread-1", 2)), ErrRevisionConflict)
	// Skipping ahead is also a conflict.
	assert.ErrorIs(t, s.Put(ctx, ticketRev("thread-1", 5)), ErrRevisionConflict)
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ticketRev("query-a", 1)))
	require.NoError(t, s.Put(ctx, ticketRev("query-b", 1)))
	require.NoError(t, s.Put(ctx, ticketRev("other-c", 1)))

	ids, err := s.List(ctx, "query-")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"query-a", "query-b"}, ids)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ticketRev("thread-1", 1)))
	require.NoError(t, s.Delete(ctx, "thread-1"))

	_, err := s.Get(ctx, "thread-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// After delete, revision 1 starts a fresh thread.
	assert.NoError(t, s.Put(ctx, ticketRev("thread-1", 1)))
}
