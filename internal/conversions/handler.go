package conversions

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orbitchat/attribution/pkg/logging"
)

// reportReader is the read surface the handler needs.
type reportReader interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]ConversionRecord, error)
	GetRevenueStats(ctx context.Context, agentID string, start, end *time.Time) (*RevenueStats, error)
}

// Handler provides HTTP endpoints for conversion reporting.
type Handler struct {
	repo    reportReader
	listMax int
	logger  *logging.Logger
}

// NewHandler creates a new conversions HTTP handler.
func NewHandler(repo reportReader, listMax int, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if listMax <= 0 {
		listMax = 50
	}
	return &Handler{repo: repo, listMax: listMax, logger: logger}
}

// ListConversionsResponse is the response for listing conversions
type ListConversionsResponse struct {
	Conversions []ConversionRecord `json:"conversions"`
	Count       int                `json:"count"`
}

// List returns recent conversions for an agent.
// GET /agents/{agentID}/conversions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		http.Error(w, `{"error": "agent_id required"}`, http.StatusBadRequest)
		return
	}

	limit := h.listMax
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= h.listMax {
			limit = parsed
		}
	}

	records, err := h.repo.ListByAgent(r.Context(), agentID, limit)
	if err != nil {
		h.logger.Error("failed to list conversions", "error", err, "agent_id", agentID)
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ListConversionsResponse{
		Conversions: records,
		Count:       len(records),
	})
}

// GetStats returns aggregated revenue metrics for an agent.
// GET /agents/{agentID}/conversions/stats
// Query params:
//   - start: RFC3339 timestamp for period start (optional)
//   - end: RFC3339 timestamp for period end (optional)
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		http.Error(w, `{"error": "agent_id required"}`, http.StatusBadRequest)
		return
	}

	var start, end *time.Time
	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, `{"error": "invalid start time"}`, http.StatusBadRequest)
			return
		}
		start = &t
	}
	if s := r.URL.Query().Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, `{"error": "invalid end time"}`, http.StatusBadRequest)
			return
		}
		end = &t
	}
	if (start == nil) != (end == nil) {
		http.Error(w, `{"error": "start and end must be provided together"}`, http.StatusBadRequest)
		return
	}

	stats, err := h.repo.GetRevenueStats(r.Context(), agentID, start, end)
	if err != nil {
		h.logger.Error("failed to load revenue stats", "error", err, "agent_id", agentID)
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
