package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orbitchat/attribution/internal/conversions"
	httpmiddleware "github.com/orbitchat/attribution/internal/http/middleware"
	"github.com/orbitchat/attribution/internal/leads"
	"github.com/orbitchat/attribution/internal/orders"
	"github.com/orbitchat/attribution/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	OrdersWebhook      *orders.WebhookHandler
	LeadsHandler       *leads.Handler
	ConversionsHandler *conversions.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthCheck)

	// Webhook receiver (signature-verified in the handler)
	if cfg.OrdersWebhook != nil {
		r.Post("/webhooks/orders/{agentID}", cfg.OrdersWebhook.Handle)
	}

	r.Route("/agents/{agentID}", func(agent chi.Router) {
		if cfg.LeadsHandler != nil {
			agent.Post("/leads", cfg.LeadsHandler.CreateLead)
		}
		if cfg.ConversionsHandler != nil {
			agent.Get("/conversions", cfg.ConversionsHandler.List)
			agent.Get("/conversions/stats", cfg.ConversionsHandler.GetStats)
		}
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
