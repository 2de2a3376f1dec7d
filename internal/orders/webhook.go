package orders

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orbitchat/attribution/internal/attribution"
	"github.com/orbitchat/attribution/internal/conversions"
	"github.com/orbitchat/attribution/internal/observability/metrics"
	"github.com/orbitchat/attribution/pkg/logging"
)

// provider key under which processed order ids are tracked.
const providerName = "shop"

// SignatureHeader carries the base64 HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Hmac-Sha256"

type attributor interface {
	Attribute(ctx context.Context, order attribution.OrderEvent, agentID string) (attribution.Result, error)
}

type conversionWriter interface {
	Insert(ctx context.Context, rec *conversions.ConversionRecord) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, orderID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, orderID string) (bool, error)
}

// WebhookHandler handles verified order webhooks and runs attribution. The
// engine itself performs no deduplication; re-delivered webhooks are caught
// here at the boundary before any row is written.
type WebhookHandler struct {
	webhookSecret string
	engine        attributor
	conversions   conversionWriter
	processed     processedTracker
	metrics       *metrics.AttributionMetrics
	logger        *logging.Logger
}

// NewWebhookHandler creates a new handler for order webhooks.
func NewWebhookHandler(
	webhookSecret string,
	engine attributor,
	conversionsRepo conversionWriter,
	processed processedTracker,
	m *metrics.AttributionMetrics,
	logger *logging.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		engine:        engine,
		conversions:   conversionsRepo,
		processed:     processed,
		metrics:       m,
		logger:        logger,
	}
}

// Handle processes incoming order webhooks.
// POST /webhooks/orders/{agentID}
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.ObserveWebhook("bad_request")
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !verifySignature(h.webhookSecret, payload, r.Header.Get(SignatureHeader)) {
		h.metrics.ObserveWebhook("unauthorized")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		h.metrics.ObserveWebhook("bad_request")
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}

	order, err := parseOrderPayload(payload)
	if err != nil {
		h.metrics.ObserveWebhook("bad_request")
		h.logger.Warn("order webhook rejected", "error", err, "agent_id", agentID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if done, err := h.processed.AlreadyProcessed(r.Context(), providerName, order.OrderID); err != nil {
		h.metrics.ObserveWebhook("error")
		h.logger.Error("processed lookup failed", "error", err, "order_id", order.OrderID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if done {
		h.metrics.ObserveWebhook("duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := h.engine.Attribute(r.Context(), order, agentID)
	if err != nil {
		h.metrics.ObserveWebhook("error")
		h.logger.Error("attribution failed", "error", err, "agent_id", agentID, "order_id", order.OrderID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	// A miss is a valid outcome: acknowledge without writing a record.
	if result.Matched() {
		rec := conversions.NewRecord(agentID, order, result)
		if err := h.conversions.Insert(r.Context(), rec); err != nil {
			h.metrics.ObserveWebhook("error")
			h.logger.Error("conversion insert failed", "error", err, "order_id", order.OrderID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		h.metrics.ObserveAttribution(result.MethodTag(), result.Confidence)
	} else {
		h.metrics.ObserveAttribution("miss", 0)
	}

	if _, err := h.processed.MarkProcessed(r.Context(), providerName, order.OrderID); err != nil {
		h.logger.Error("failed to record processed order", "error", err, "order_id", order.OrderID)
	}

	h.metrics.ObserveWebhook("ok")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhookResponse{
		Attributed:     result.Matched(),
		ConversationID: result.ConversationID,
		Confidence:     result.Confidence,
	})
}

type webhookResponse struct {
	Attributed     bool    `json:"attributed"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// orderPayload is the order webhook envelope.
type orderPayload struct {
	ID         string            `json:"id"`
	CreatedAt  string            `json:"created_at"`
	Email      string            `json:"email"`
	LineItems  []lineItemPayload `json:"line_items"`
	TotalPrice string            `json:"total_price"`
	Currency   string            `json:"currency"`
}

type lineItemPayload struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
}

func parseOrderPayload(payload []byte) (attribution.OrderEvent, error) {
	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return attribution.OrderEvent{}, ErrInvalidPayload
	}

	order := attribution.OrderEvent{
		OrderID:       strings.TrimSpace(p.ID),
		CustomerEmail: strings.TrimSpace(p.Email),
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
	}
	if p.CreatedAt != "" {
		created, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return attribution.OrderEvent{}, ErrInvalidTimestamp
		}
		order.CreatedAt = created.UTC()
	}
	order.TotalCents = parsePriceCents(p.TotalPrice)
	for _, item := range p.LineItems {
		order.LineItems = append(order.LineItems, attribution.LineItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
		})
	}

	if err := order.Validate(); err != nil {
		return attribution.OrderEvent{}, err
	}
	return order, nil
}

// parsePriceCents converts a decimal amount string like "49.99" to cents.
// Malformed amounts become zero; an order without a parsable total is still
// attributable.
func parsePriceCents(price string) int64 {
	price = strings.TrimSpace(price)
	if price == "" {
		return 0
	}
	f, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}

// verifySignature verifies a base64 HMAC-SHA256 of the raw body. An empty
// secret bypasses verification for development.
func verifySignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true
	}
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(expected))
}
