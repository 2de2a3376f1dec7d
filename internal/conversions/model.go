package conversions

import (
	"time"

	"github.com/google/uuid"

	"github.com/orbitchat/attribution/internal/attribution"
)

// ConversionRecord is the persisted, write-once outcome of a successful
// attribution. There is no update or delete path.
type ConversionRecord struct {
	ID                       uuid.UUID              `json:"id"`
	AgentID                  string                 `json:"agent_id"`
	ConversationID           string                 `json:"conversation_id"`
	CandidateConversationIDs []string               `json:"candidate_conversation_ids"`
	OrderID                  string                 `json:"order_id"`
	OrderTotalCents          int64                  `json:"order_total_cents"`
	Currency                 string                 `json:"currency"`
	PurchasedProducts        []attribution.LineItem `json:"purchased_products"`
	AttributionMethod        string                 `json:"attribution_method"`
	AttributionConfidence    float64                `json:"attribution_confidence"`
	RecordedAt               time.Time              `json:"recorded_at"`
}

// NewRecord assembles a conversion record from an attributed order.
func NewRecord(agentID string, order attribution.OrderEvent, result attribution.Result) *ConversionRecord {
	return &ConversionRecord{
		ID:                       uuid.New(),
		AgentID:                  agentID,
		ConversationID:           result.ConversationID,
		CandidateConversationIDs: result.CandidateConversationIDs,
		OrderID:                  order.OrderID,
		OrderTotalCents:          order.TotalCents,
		Currency:                 order.Currency,
		PurchasedProducts:        order.LineItems,
		AttributionMethod:        result.MethodTag(),
		AttributionConfidence:    result.Confidence,
		RecordedAt:               time.Now().UTC(),
	}
}
