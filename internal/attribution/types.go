package attribution

import (
	"strings"
	"time"
)

// Method tags recorded on an attribution result, for audit and reporting.
const (
	MethodEmailMatch        = "email_match"
	MethodProductMention    = "product_mention"
	MethodTemporalProximity = "temporal_proximity"
)

// LineItem is one purchased product on an order.
type LineItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
}

// OrderEvent is a verified e-commerce order, one per webhook delivery.
// Constructed once, never mutated.
type OrderEvent struct {
	OrderID       string
	CreatedAt     time.Time
	CustomerEmail string
	LineItems     []LineItem
	TotalCents    int64
	Currency      string
}

// Validate checks the fields the engine cannot work without.
func (o *OrderEvent) Validate() error {
	if strings.TrimSpace(o.OrderID) == "" {
		return ErrMissingOrderID
	}
	if o.CreatedAt.IsZero() {
		return ErrMissingOrderTime
	}
	return nil
}

// Result is the outcome of one attribution run. A zero Result is a valid
// "miss": no conversation, confidence 0, no methods.
type Result struct {
	// ConversationID is the best-match conversation, empty when no
	// attribution was found.
	ConversationID string
	// Confidence is a heuristic score in [0, 0.98], not a calibrated
	// probability. Zero exactly when ConversationID is empty.
	Confidence float64
	// Methods lists the heuristics that contributed, in the order they
	// were applied. Never empty when ConversationID is set.
	Methods []string
	// CandidateConversationIDs is every conversation that satisfied the
	// primary matching stage, kept for audit. Contains ConversationID
	// when set.
	CandidateConversationIDs []string
}

// Matched reports whether the run found a conversation.
func (r Result) Matched() bool {
	return r.ConversationID != ""
}

// MethodTag joins the applied method tags into the persisted form.
func (r Result) MethodTag() string {
	return strings.Join(r.Methods, ",")
}
