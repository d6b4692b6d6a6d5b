package storage

import (
	"context"
	"time"
)

// Session is one conversation thread owned by an authenticated user.
type Session struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Message is one turn saved into a session transcript.
type Message struct {
	ID         string
	SessionID  string
	UserID     string
	Role       string // "user" or "assistant"
	Content    string
	TokenCount int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Execution is the audit record for one dispatched agent run.
type Execution struct {
	ID            string
	SessionID     string
	UserID        string
	AgentType     string
	Task          string
	Status        string // "completed" or "failed"
	Result        string
	ErrorMessage  string
	ElapsedMillis int64
	Usage         map[string]any
	Metadata      map[string]any
	CreatedAt     time.Time
}

// Store persists sessions, transcripts, and execution audit records.
// Identifiers are generated by the caller so persistence can run off the
// request path without delaying the response.
type Store interface {
	// CreateSession inserts a session row; inserting an existing ID is a
	// no-op so retried writes stay idempotent.
	CreateSession(ctx context.Context, session Session) error
	SaveMessage(ctx context.Context, message Message) error
	SaveExecution(ctx context.Context, execution Execution) error
	// ListSessions returns the caller's sessions, most recent first.
	ListSessions(ctx context.Context, userID string, limit int) ([]Session, error)
}
