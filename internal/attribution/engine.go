package attribution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orbitchat/attribution/internal/conversations"
	"github.com/orbitchat/attribution/internal/leads"
	"github.com/orbitchat/attribution/pkg/logging"
)

// LookbackWindow is the fixed span before an order's timestamp searched for
// candidate leads and conversations. It is a single global policy, not
// per-agent configuration: a purchase decision is rarely influenced by a
// conversation more than a day old, and the bound keeps query cost flat.
const LookbackWindow = 24 * time.Hour

// temporalCandidateLimit caps how many recent conversations the fallback
// stage considers.
const temporalCandidateLimit = 10

// maxConfidence is the ceiling after content-corroboration boosts.
const maxConfidence = 0.98

// confidenceBand maps an elapsed-time upper bound to a fixed score.
type confidenceBand struct {
	within time.Duration
	score  float64
}

// emailMatchBands is the hand-tuned decay for identity matches: coarse on
// purpose so confidence values stay stable and explainable in reports.
// Entries are tried in order; the last band covers the remainder of the
// lookback window.
var emailMatchBands = []confidenceBand{
	{within: time.Hour, score: 0.95},
	{within: 6 * time.Hour, score: 0.85},
	{within: 12 * time.Hour, score: 0.75},
	{within: LookbackWindow, score: 0.70},
}

// temporalBands is the decay for time-only matches. Deliberately lower than
// emailMatchBands: temporal correlation alone is weak evidence.
var temporalBands = []confidenceBand{
	{within: 2 * time.Hour, score: 0.50},
	{within: 6 * time.Hour, score: 0.40},
	{within: LookbackWindow, score: 0.30},
}

func bandScore(bands []confidenceBand, elapsed time.Duration) float64 {
	for _, b := range bands {
		if elapsed < b.within {
			return b.score
		}
	}
	return bands[len(bands)-1].score
}

// LeadSource provides read access to captured leads for one agent.
type LeadSource interface {
	FindByAgentAndWindow(ctx context.Context, agentID string, from, to time.Time) ([]leads.Lead, error)
}

// ConversationSource provides read access to conversations for one agent.
type ConversationSource interface {
	FindByAgentAndWindow(ctx context.Context, agentID string, from, to time.Time, limit int) ([]conversations.Conversation, error)
	HasMessages(ctx context.Context, conversationID string) (bool, error)
}

// TranscriptSource resolves a conversation's full message text, concatenated
// in message order.
type TranscriptSource interface {
	Transcript(ctx context.Context, conversationID string) (string, error)
}

// Engine correlates a completed order with the chat conversation that caused
// it, if any. It is stateless: a pure function of the order and the store
// contents, safe for concurrent use.
type Engine struct {
	leads       LeadSource
	convos      ConversationSource
	transcripts TranscriptSource
	logger      *logging.Logger
	tracer      trace.Tracer
	stages      []stage
}

// stage attempts one matching strategy. matched=false with a nil error means
// fall through to the next stage.
type stage func(ctx context.Context, order OrderEvent, agentID string) (Result, bool, error)

// NewEngine wires the engine to its read-side stores.
func NewEngine(leadSrc LeadSource, convoSrc ConversationSource, transcripts TranscriptSource, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		leads:       leadSrc,
		convos:      convoSrc,
		transcripts: transcripts,
		logger:      logger,
		tracer:      otel.Tracer("orbitchat.internal.attribution"),
	}
	// Ordered cascade: first stage to match wins. Content corroboration is
	// not a stage of its own; it only boosts an identity match.
	e.stages = []stage{e.identityStage, e.temporalStage}
	return e
}

// Attribute runs the cascade for one order. A miss is not an error: the zero
// Result is returned with a nil error. Store failures propagate unmodified;
// there are no retries.
func (e *Engine) Attribute(ctx context.Context, order OrderEvent, agentID string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "attribution.attribute")
	defer span.End()

	for _, s := range e.stages {
		res, matched, err := s(ctx, order, agentID)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		if matched {
			e.logger.Info("order attributed",
				"agent_id", agentID,
				"order_id", order.OrderID,
				"conversation_id", res.ConversationID,
				"confidence", res.Confidence,
				"methods", res.MethodTag(),
			)
			return res, nil
		}
	}

	e.logger.Info("no attribution found", "agent_id", agentID, "order_id", order.OrderID)
	return Result{}, nil
}

// identityStage matches the order's customer email against leads captured in
// the lookback window. Skipped entirely when the order has no email.
func (e *Engine) identityStage(ctx context.Context, order OrderEvent, agentID string) (Result, bool, error) {
	if strings.TrimSpace(order.CustomerEmail) == "" {
		return Result{}, false, nil
	}

	from := order.CreatedAt.Add(-LookbackWindow)
	captured, err := e.leads.FindByAgentAndWindow(ctx, agentID, from, order.CreatedAt)
	if err != nil {
		return Result{}, false, fmt.Errorf("attribution: lead lookup failed: %w", err)
	}

	// Case-insensitive exact match only. No fuzzy matching, no
	// plus-addressing normalization.
	email := strings.ToLower(strings.TrimSpace(order.CustomerEmail))
	var matched []leads.Lead
	for _, l := range captured {
		if l.EmailLower == email {
			matched = append(matched, l)
		}
	}
	if len(matched) == 0 {
		return Result{}, false, nil
	}

	// Most recent lead wins as the primary candidate.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	primary := matched[0]

	seen := make(map[string]struct{}, len(matched))
	candidates := make([]string, 0, len(matched))
	for _, l := range matched {
		if _, ok := seen[l.ConversationID]; ok {
			continue
		}
		seen[l.ConversationID] = struct{}{}
		candidates = append(candidates, l.ConversationID)
	}

	res := Result{
		ConversationID:           primary.ConversationID,
		Confidence:               bandScore(emailMatchBands, order.CreatedAt.Sub(primary.CreatedAt)),
		Methods:                  []string{MethodEmailMatch},
		CandidateConversationIDs: candidates,
	}

	res, err = e.corroborate(ctx, order, res)
	if err != nil {
		return Result{}, false, err
	}
	return res, true, nil
}

// corroborate raises confidence when the matched conversation's transcript
// mentions the purchased products. An email match alone does not prove the
// conversation drove this particular purchase.
func (e *Engine) corroborate(ctx context.Context, order OrderEvent, res Result) (Result, error) {
	// Zero line items: mention ratio is undefined, treat as no mentions.
	if len(order.LineItems) == 0 {
		return res, nil
	}

	transcript, err := e.transcripts.Transcript(ctx, res.ConversationID)
	if err != nil {
		return Result{}, fmt.Errorf("attribution: transcript lookup failed: %w", err)
	}

	haystack := strings.ToLower(transcript)
	mentioned := 0
	for _, item := range order.LineItems {
		title := strings.ToLower(strings.TrimSpace(item.Title))
		if title != "" && strings.Contains(haystack, title) {
			mentioned++
		}
	}
	if mentioned == 0 {
		return res, nil
	}

	boost := 0.05
	if float64(mentioned)/float64(len(order.LineItems)) >= 0.5 {
		boost = 0.10
	}
	res.Confidence = math.Min(res.Confidence+boost, maxConfidence)
	res.Methods = append(res.Methods, MethodProductMention)
	return res, nil
}

// temporalStage is the fallback when no identity match exists: the most
// recent conversation with at least one message wins, at a lower confidence.
// Content corroboration is intentionally not applied here, matching the
// behavior revenue reports were tuned against.
func (e *Engine) temporalStage(ctx context.Context, order OrderEvent, agentID string) (Result, bool, error) {
	from := order.CreatedAt.Add(-LookbackWindow)
	recent, err := e.convos.FindByAgentAndWindow(ctx, agentID, from, order.CreatedAt, temporalCandidateLimit)
	if err != nil {
		return Result{}, false, fmt.Errorf("attribution: conversation lookup failed: %w", err)
	}

	// An empty conversation cannot have influenced a purchase.
	var qualifying []conversations.Conversation
	for _, c := range recent {
		ok, err := e.convos.HasMessages(ctx, c.ID)
		if err != nil {
			return Result{}, false, fmt.Errorf("attribution: message existence check failed: %w", err)
		}
		if ok {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) == 0 {
		return Result{}, false, nil
	}

	// Store returns newest first, so the first qualifying conversation is
	// the primary candidate.
	primary := qualifying[0]
	candidates := make([]string, 0, len(qualifying))
	for _, c := range qualifying {
		candidates = append(candidates, c.ID)
	}

	return Result{
		ConversationID:           primary.ID,
		Confidence:               bandScore(temporalBands, order.CreatedAt.Sub(primary.CreatedAt)),
		Methods:                  []string{MethodTemporalProximity},
		CandidateConversationIDs: candidates,
	}, true, nil
}
