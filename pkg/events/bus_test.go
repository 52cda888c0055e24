package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/models"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func collect(t *testing.T, ch <-chan models.EventRecord) []models.EventRecord {
	t.Helper()
	var out []models.EventRecord
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, rec)
		case <-time.After(2 * time.Second):
			t.Fatal("event stream did not close")
		}
	}
}

func states(recs []models.EventRecord) []models.TicketState {
	out := make([]models.TicketState, len(recs))
	for i, r := range recs {
		out[i] = r.State
	}
	return out
}

func TestBus_OrderedFullHistoryReplay(t *testing.T) {
	b := newTestBus()
	b.Register("ticket-1", nil, nil)
	b.Publish("ticket-1", models.StateReceived, nil)
	b.Publish("ticket-1", models.StatePlanning, nil)
	b.Publish("ticket-1", models.StateExecuting, nil)
	b.Publish("ticket-1", models.StateFinished, map[string]any{"rows": 3})

	// A subscriber arriving after the fact still sees everything, in order.
	ch, err := b.Subscribe(context.Background(), "ticket-1")
	require.NoError(t, err)
	recs := collect(t, ch)

	assert.Equal(t, []models.TicketState{
		models.StateReceived, models.StatePlanning,
		models.StateExecuting, models.StateFinished,
	}, states(recs))
}

func TestBus_LiveSubscriberFollowsToTerminal(t *testing.T) {
	b := newTestBus()
	b.Register("ticket-1", nil, nil)
	b.Publish("ticket-1", models.StateReceived, nil)

	ch, err := b.Subscribe(context.Background(), "ticket-1")
	require.NoError(t, err)

	go func() {
		b.Publish("ticket-1", models.StateExecuting, nil)
		b.Publish("ticket-1", models.StateFinished, nil)
	}()

	recs := collect(t, ch)
	assert.Equal(t, []models.TicketState{
		models.StateReceived, models.StateExecuting, models.StateFinished,
	}, states(recs))
}

func TestBus_PostTerminalPublishDropped(t *testing.T) {
	b := newTestBus()
	b.Register("ticket-1", nil, nil)
	b.Publish("ticket-1", models.StateReceived, nil)
	b.Publish("ticket-1", models.StateError, nil)
	b.Publish("ticket-1", models.StateFinished, nil)

	ch, err := b.Subscribe(context.Background(), "ticket-1")
	require.NoError(t, err)
	recs := collect(t, ch)

	// Exactly one terminal frame ends the stream.
	assert.Equal(t, []models.TicketState{models.StateReceived, models.StateError}, states(recs))
}

func TestBus_SubscribeUnknownTicket(t *testing.T) {
	b := newTestBus()
	_, err := b.Subscribe(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTicket)
}

func TestBus_DisconnectBeforeTerminalFiresCancel(t *testing.T) {
	b := newTestBus()
	cancelled := make(chan struct{})
	b.Register("ticket-1", nil, func() { close(cancelled) })
	b.Publish("ticket-1", models.StateReceived, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "ticket-1")
	require.NoError(t, err)

	// Drain the history, then drop the connection mid-stream.
	<-ch
	cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel hook did not fire")
	}
}

func TestBus_DisconnectAfterTerminalDoesNotCancel(t *testing.T) {
	b := newTestBus()
	cancelled := false
	b.Register("ticket-1", nil, func() { cancelled = true })
	b.Publish("ticket-1", models.StateFinished, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "ticket-1")
	require.NoError(t, err)
	collect(t, ch)

	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, cancelled)
}

func TestBus_GetState(t *testing.T) {
	b := newTestBus()
	b.Register("ticket-1", nil, nil)

	state, err := b.GetState("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateReceived, state)

	b.Publish("ticket-1", models.StateReceived, nil)
	b.Publish("ticket-1", models.StatePendingApproval, nil)

	state, err = b.GetState("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingApproval, state)

	_, err = b.GetState("nope")
	assert.ErrorIs(t, err, ErrUnknownTicket)
}

func TestBus_GetMetadata(t *testing.T) {
	b := newTestBus()
	b.Register("ticket-1", map[string]string{"user": "alice"}, nil)

	md, err := b.GetMetadata("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", md["user"])

	_, err = b.GetMetadata("nope")
	assert.ErrorIs(t, err, ErrUnknownTicket)
}

func TestBus_RegisterIsIdempotent(t *testing.T) {
	b := newTestBus()
	b.Register("ticket-1", map[string]string{"user": "alice"}, nil)
	b.Publish("ticket-1", models.StateReceived, nil)
	b.Register("ticket-1", map[string]string{"user": "mallory"}, nil)

	md, err := b.GetMetadata("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", md["user"])

	state, err := b.GetState("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateReceived, state)
}
