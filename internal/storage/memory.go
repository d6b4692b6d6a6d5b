package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. It backs deployments that
// run without a database URL and the test suite.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]Session
	messages   []Message
	executions []Execution
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) CreateSession(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return nil
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *MemoryStore) SaveExecution(ctx context.Context, execution Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, execution)
	return nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Messages returns a copy of the saved messages for one session.
func (s *MemoryStore) Messages(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]Message, 0)
	for _, message := range s.messages {
		if message.SessionID == sessionID {
			messages = append(messages, message)
		}
	}
	return messages
}

// Executions returns a copy of all saved execution records.
func (s *MemoryStore) Executions() []Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Execution(nil), s.executions...)
}
