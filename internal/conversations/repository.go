package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository defines read access to conversations and their messages.
type Repository interface {
	FindByAgentAndWindow(ctx context.Context, agentID string, from, to time.Time, limit int) ([]Conversation, error)
	FindMessages(ctx context.Context, conversationID string) ([]Message, error)
	HasMessages(ctx context.Context, conversationID string) (bool, error)
}

// PostgresRepository reads conversations from the relational database.
type PostgresRepository struct {
	db db
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("conversations: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB allows injecting a mock database for testing.
func NewPostgresRepositoryWithDB(db db) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByAgentAndWindow returns conversations started inside the closed time
// window, newest first, capped to limit when limit > 0.
func (r *PostgresRepository) FindByAgentAndWindow(ctx context.Context, agentID string, from, to time.Time, limit int) ([]Conversation, error) {
	query := `
		SELECT id, agent_id, created_at
		FROM conversations
		WHERE agent_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
	`
	args := []any{agentID, from, to}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conversations: window query failed: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.AgentID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversations: scan failed: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversations: window query failed: %w", err)
	}
	return out, nil
}

// FindMessages returns the full transcript for a conversation in message
// order.
func (r *PostgresRepository) FindMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversations: message query failed: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversations: message scan failed: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversations: message query failed: %w", err)
	}
	return out, nil
}

// HasMessages reports whether at least one message exists for the
// conversation.
func (r *PostgresRepository) HasMessages(ctx context.Context, conversationID string) (bool, error) {
	query := `SELECT 1 FROM messages WHERE conversation_id = $1 LIMIT 1`
	var exists int
	if err := r.db.QueryRow(ctx, query, conversationID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("conversations: existence check failed: %w", err)
	}
	return true, nil
}
