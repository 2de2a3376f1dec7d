package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db db
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB allows injecting a mock database for testing.
func NewPostgresRepositoryWithDB(db db) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new row. email_lower is a generated column, derived from
// email in the schema.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO leads (id, agent_id, conversation_id, name, email, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRow(ctx, query,
		id,
		req.AgentID,
		req.ConversationID,
		req.Name,
		req.Email,
		req.Payload,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return &Lead{
		ID:             id.String(),
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		Name:           req.Name,
		Email:          req.Email,
		EmailLower:     strings.ToLower(req.Email),
		Payload:        req.Payload,
		CreatedAt:      createdAt,
	}, nil
}

// GetByID fetches a lead scoped to the agent.
func (r *PostgresRepository) GetByID(ctx context.Context, agentID, id string) (*Lead, error) {
	query := `
		SELECT id, agent_id, conversation_id, name, email, email_lower, payload, created_at
		FROM leads
		WHERE id = $1 AND agent_id = $2
	`
	row := r.db.QueryRow(ctx, query, id, agentID)
	var lead Lead
	if err := row.Scan(
		&lead.ID,
		&lead.AgentID,
		&lead.ConversationID,
		&lead.Name,
		&lead.Email,
		&lead.EmailLower,
		&lead.Payload,
		&lead.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return &lead, nil
}

// FindByAgentAndWindow returns all leads captured for the agent inside the
// closed time window, newest first.
func (r *PostgresRepository) FindByAgentAndWindow(ctx context.Context, agentID string, from, to time.Time) ([]Lead, error) {
	query := `
		SELECT id, agent_id, conversation_id, name, email, email_lower, payload, created_at
		FROM leads
		WHERE agent_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, agentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("leads: window query failed: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var lead Lead
		if err := rows.Scan(
			&lead.ID,
			&lead.AgentID,
			&lead.ConversationID,
			&lead.Name,
			&lead.Email,
			&lead.EmailLower,
			&lead.Payload,
			&lead.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: window query failed: %w", err)
	}
	return out, nil
}
