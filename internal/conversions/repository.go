package conversions

import (
	"context"
	"encoding/json"
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

// Repository persists and reports attributed conversions.
type Repository struct {
	db db
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("conversions: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db db) *Repository {
	return &Repository{db: db}
}

// Insert writes one conversion row.
func (r *Repository) Insert(ctx context.Context, rec *ConversionRecord) error {
	products, err := json.Marshal(rec.PurchasedProducts)
	if err != nil {
		return fmt.Errorf("conversions: marshal products: %w", err)
	}

	query := `
		INSERT INTO conversions (
			id, agent_id, conversation_id, candidate_conversation_ids,
			order_id, order_total_cents, currency, purchased_products,
			attribution_method, attribution_confidence, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.AgentID,
		rec.ConversationID,
		rec.CandidateConversationIDs,
		rec.OrderID,
		rec.OrderTotalCents,
		rec.Currency,
		products,
		rec.AttributionMethod,
		rec.AttributionConfidence,
		rec.RecordedAt,
	); err != nil {
		return fmt.Errorf("conversions: insert failed: %w", err)
	}
	return nil
}

// ListByAgent returns the most recent conversions for an agent, newest
// first.
func (r *Repository) ListByAgent(ctx context.Context, agentID string, limit int) ([]ConversionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, agent_id, conversation_id, candidate_conversation_ids,
		       order_id, order_total_cents, currency, purchased_products,
		       attribution_method, attribution_confidence, recorded_at
		FROM conversions
		WHERE agent_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversions: list failed: %w", err)
	}
	defer rows.Close()

	var out []ConversionRecord
	for rows.Next() {
		var rec ConversionRecord
		var products []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.AgentID,
			&rec.ConversationID,
			&rec.CandidateConversationIDs,
			&rec.OrderID,
			&rec.OrderTotalCents,
			&rec.Currency,
			&products,
			&rec.AttributionMethod,
			&rec.AttributionConfidence,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("conversions: scan failed: %w", err)
		}
		if len(products) > 0 {
			if err := json.Unmarshal(products, &rec.PurchasedProducts); err != nil {
				return nil, fmt.Errorf("conversions: unmarshal products: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversions: list failed: %w", err)
	}
	return out, nil
}

// RevenueStats represents per-agent conversion metrics for revenue reports.
type RevenueStats struct {
	AgentID           string           `json:"agent_id"`
	Conversions       int64            `json:"conversions"`
	RevenueCentsTotal int64            `json:"revenue_cents_total"`
	AvgConfidence     float64          `json:"avg_confidence"`
	MethodCounts      map[string]int64 `json:"method_counts"`
	PeriodStart       string           `json:"period_start"`
	PeriodEnd         string           `json:"period_end"`
}

// GetRevenueStats retrieves aggregated conversion metrics for an agent.
// Optional start/end times for filtering. If nil, returns all-time stats.
func (r *Repository) GetRevenueStats(ctx context.Context, agentID string, start, end *time.Time) (*RevenueStats, error) {
	stats := &RevenueStats{AgentID: agentID, MethodCounts: map[string]int64{}}

	var timeFilter string
	args := []any{agentID}
	if start != nil && end != nil {
		timeFilter = " AND recorded_at >= $2 AND recorded_at < $3"
		args = append(args, *start, *end)
		stats.PeriodStart = start.Format(time.RFC3339)
		stats.PeriodEnd = end.Format(time.RFC3339)
	} else {
		stats.PeriodStart = "all-time"
		stats.PeriodEnd = "now"
	}

	totalsQuery := `
		SELECT COUNT(*), COALESCE(SUM(order_total_cents), 0), COALESCE(AVG(attribution_confidence), 0)
		FROM conversions
		WHERE agent_id = $1` + timeFilter
	if err := r.db.QueryRow(ctx, totalsQuery, args...).Scan(
		&stats.Conversions,
		&stats.RevenueCentsTotal,
		&stats.AvgConfidence,
	); err != nil {
		return nil, fmt.Errorf("conversions stats: totals: %w", err)
	}

	methodsQuery := `
		SELECT attribution_method, COUNT(*)
		FROM conversions
		WHERE agent_id = $1` + timeFilter + `
		GROUP BY attribution_method`
	rows, err := r.db.Query(ctx, methodsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("conversions stats: methods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var count int64
		if err := rows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("conversions stats: method scan: %w", err)
		}
		stats.MethodCounts[method] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversions stats: methods: %w", err)
	}

	return stats, nil
}
