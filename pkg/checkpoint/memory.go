package checkpoint

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/querygate/querygate/pkg/models"
)

// MemoryStore is an in-process Store for tests and dev mode. It enforces the
// same CAS semantics as the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	revs    map[string]int64
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
		revs:    make(map[string]int64),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, threadID string) (*models.QueryTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.entries[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	var ticket models.QueryTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, ticket *models.QueryTicket) error {
	raw, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.revs[ticket.ID]
	if ticket.Revision > 1 && (!exists || current != ticket.Revision-1) {
		return ErrRevisionConflict
	}
	s.entries[ticket.ID] = raw
	s.revs[ticket.ID] = ticket.Revision
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.entries {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, threadID)
	delete(s.revs, threadID)
	return nil
}
