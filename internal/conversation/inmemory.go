package conversation

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use. It honors
// the same bounded-history contract as the durable stores but does not
// survive a restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records map[string][]Turn
	updated map[string]time.Time
}

func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &InMemoryStore{
		limit:   limit,
		records: make(map[string][]Turn),
		updated: make(map[string]time.Time),
	}
}

func (s *InMemoryStore) History(_ context.Context, userID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, userID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = appendBounded(s.records[userID], turn, s.limit)
	s.updated[userID] = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	delete(s.updated, userID)
	return nil
}

// LastUpdated reports when a user's history last changed. The durable
// stores keep the same information in the last_updated column.
func (s *InMemoryStore) LastUpdated(userID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.updated[userID]
	return ts, ok
}

func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Users: len(s.records)}
	for _, arr := range s.records {
		st.Turns += len(arr)
	}
	return st, nil
}

func (s *InMemoryStore) Close() error { return nil }
