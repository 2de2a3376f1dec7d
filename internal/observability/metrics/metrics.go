package metrics

import "github.com/prometheus/client_golang/prometheus"

// AttributionMetrics exposes counters/histograms for the attribution flow.
type AttributionMetrics struct {
	webhooksTotal     *prometheus.CounterVec
	attributionsTotal *prometheus.CounterVec
	confidence        prometheus.Histogram
	webhookLatency    prometheus.Histogram
}

func NewAttributionMetrics(reg prometheus.Registerer) *AttributionMetrics {
	m := &AttributionMetrics{
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbitchat",
			Subsystem: "attribution",
			Name:      "order_webhooks_total",
			Help:      "Total inbound order webhooks",
		}, []string{"status"}),
		attributionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbitchat",
			Subsystem: "attribution",
			Name:      "attributions_total",
			Help:      "Attribution outcomes by method tag ('miss' when none)",
		}, []string{"method"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orbitchat",
			Subsystem: "attribution",
			Name:      "confidence",
			Help:      "Confidence of successful attributions",
			Buckets:   []float64{0.3, 0.4, 0.5, 0.7, 0.75, 0.85, 0.95, 0.98},
		}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orbitchat",
			Subsystem: "attribution",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of order webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhooksTotal, m.attributionsTotal, m.confidence, m.webhookLatency)
	return m
}

func (m *AttributionMetrics) ObserveWebhook(status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(status).Inc()
}

func (m *AttributionMetrics) ObserveAttribution(method string, confidence float64) {
	if m == nil {
		return
	}
	m.attributionsTotal.WithLabelValues(method).Inc()
	if confidence > 0 {
		m.confidence.Observe(confidence)
	}
}

func (m *AttributionMetrics) ObserveWebhookLatency(seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(seconds)
}
