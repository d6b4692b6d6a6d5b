package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentgate/internal/logging"
)

const (
	sessionTable   = "agent_sessions"
	messageTable   = "agent_messages"
	executionTable = "agent_executions"
)

// PostgresStore persists records in Postgres via a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("PostgresStore"),
	}, nil
}

// EnsureSchema creates the persistence tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_user_id ON %[1]s (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_session_id ON %[2]s (session_id, created_at);
CREATE TABLE IF NOT EXISTS %[3]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    agent_type TEXT NOT NULL,
    task TEXT NOT NULL,
    status TEXT NOT NULL,
    result TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    elapsed_ms BIGINT NOT NULL DEFAULT 0,
    usage JSONB NOT NULL DEFAULT '{}'::jsonb,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_executions_session_id ON %[3]s (session_id, created_at);
`, sessionTable, messageTable, executionTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) CreateSession(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, name, created_at)
VALUES ($1, $2, $3, $4)
`, sessionTable)

	_, err := s.pool.Exec(ctx, query, session.ID, session.UserID, session.Name, createdAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// Existing session; treat the repeated insert as a no-op.
		return nil
	}
	return err
}

func (s *PostgresStore) SaveMessage(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}

	metadata, err := marshalJSONB(message.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}
	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, session_id, user_id, role, content, token_count, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, messageTable)

	_, err = s.pool.Exec(ctx, query,
		message.ID, message.SessionID, message.UserID, message.Role,
		message.Content, message.TokenCount, metadata, createdAt)
	return err
}

func (s *PostgresStore) SaveExecution(ctx context.Context, execution Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}

	usage, err := marshalJSONB(execution.Usage)
	if err != nil {
		return fmt.Errorf("marshal execution usage: %w", err)
	}
	metadata, err := marshalJSONB(execution.Metadata)
	if err != nil {
		return fmt.Errorf("marshal execution metadata: %w", err)
	}
	createdAt := execution.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, session_id, user_id, agent_type, task, status, result, error_message, elapsed_ms, usage, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, executionTable)

	_, err = s.pool.Exec(ctx, query,
		execution.ID, execution.SessionID, execution.UserID, execution.AgentType,
		execution.Task, execution.Status, execution.Result, execution.ErrorMessage,
		execution.ElapsedMillis, usage, metadata, createdAt)
	return err
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
SELECT id, user_id, name, created_at
FROM %s
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, sessionTable)

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var session Session
		if err := rows.Scan(&session.ID, &session.UserID, &session.Name, &session.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func marshalJSONB(value map[string]any) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(value)
}
