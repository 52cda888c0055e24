// Package events implements the per-ticket lifecycle bus. Delivery within a
// subscription is ordered and complete: subscribers replay the full history
// and then follow live events until the terminal frame.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/querygate/querygate/pkg/models"
)

// ErrUnknownTicket is returned for operations on unregistered tickets.
var ErrUnknownTicket = errors.New("events: unknown ticket")

// streamRetention keeps closed streams around briefly so late subscribers
// still see the terminal frame.
const streamRetention = 10 * time.Minute

// stream is one ticket's ordered event log plus its waiters.
type stream struct {
	mu       sync.Mutex
	cond     *sync.Cond
	metadata map[string]string
	events   []models.EventRecord
	terminal bool
	// cancel is invoked when a subscriber disconnects before the terminal
	// frame; the orchestrator hooks its ticket cancellation here.
	cancel context.CancelFunc
}

// Bus routes lifecycle events per ticket.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*stream
	logger  *slog.Logger
}

// NewBus builds an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		streams: map[string]*stream{},
		logger:  logger.With("component", "events"),
	}
}

// Register opens a ticket's stream. cancel may be nil; metadata is returned
// verbatim by GetMetadata.
func (b *Bus) Register(ticketID string, metadata map[string]string, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[ticketID]; ok {
		return
	}
	s := &stream{metadata: metadata, cancel: cancel}
	s.cond = sync.NewCond(&s.mu)
	b.streams[ticketID] = s
}

// Publish appends one event to the ticket's stream and wakes subscribers.
// Publishing after the terminal frame is dropped and logged.
func (b *Bus) Publish(ticketID string, state models.TicketState, payload any) {
	b.mu.Lock()
	s, ok := b.streams[ticketID]
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("publish to unknown ticket", "ticket_id", ticketID, "state", state)
		return
	}

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		b.logger.Warn("publish after terminal frame dropped", "ticket_id", ticketID, "state", state)
		return
	}
	s.events = append(s.events, models.EventRecord{
		TicketID:  ticketID,
		State:     state,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if state.Terminal() {
		s.terminal = true
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if state.Terminal() {
		go b.expire(ticketID)
	}
}

func (b *Bus) expire(ticketID string) {
	time.Sleep(streamRetention)
	b.mu.Lock()
	delete(b.streams, ticketID)
	b.mu.Unlock()
}

// Subscribe returns an ordered channel of the ticket's events, starting from
// the beginning of its history. The channel closes after the terminal frame.
// If ctx ends before the terminal frame, the ticket's cancel hook fires.
func (b *Bus) Subscribe(ctx context.Context, ticketID string) (<-chan models.EventRecord, error) {
	b.mu.Lock()
	s, ok := b.streams[ticketID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownTicket
	}

	out := make(chan models.EventRecord)
	// Wake the cond waiter when the subscriber disconnects.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	go func() {
		defer close(out)
		cursor := 0
		for {
			s.mu.Lock()
			for cursor >= len(s.events) && !s.terminal && ctx.Err() == nil {
				s.cond.Wait()
			}
			pending := make([]models.EventRecord, len(s.events)-cursor)
			copy(pending, s.events[cursor:])
			cursor = len(s.events)
			done := s.terminal && cursor == len(s.events)
			s.mu.Unlock()

			for _, rec := range pending {
				select {
				case out <- rec:
				case <-ctx.Done():
					b.disconnect(ticketID, s)
					return
				}
				if rec.State.Terminal() {
					return
				}
			}
			if ctx.Err() != nil {
				b.disconnect(ticketID, s)
				return
			}
			if done {
				return
			}
		}
	}()
	return out, nil
}

// disconnect fires the orchestrator's cancel hook for an early disconnect.
func (b *Bus) disconnect(ticketID string, s *stream) {
	s.mu.Lock()
	terminal := s.terminal
	cancel := s.cancel
	s.mu.Unlock()
	if !terminal && cancel != nil {
		b.logger.Info("subscriber disconnected before terminal, cancelling", "ticket_id", ticketID)
		cancel()
	}
}

// GetState returns the ticket's latest published state.
func (b *Bus) GetState(ticketID string) (models.TicketState, error) {
	b.mu.Lock()
	s, ok := b.streams[ticketID]
	b.mu.Unlock()
	if !ok {
		return "", ErrUnknownTicket
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return models.StateReceived, nil
	}
	return s.events[len(s.events)-1].State, nil
}

// GetMetadata returns the metadata supplied at registration.
func (b *Bus) GetMetadata(ticketID string) (map[string]string, error) {
	b.mu.Lock()
	s, ok := b.streams[ticketID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownTicket
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata, nil
}
