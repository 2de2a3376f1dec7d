package attribution

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitchat/attribution/internal/conversations"
	"github.com/orbitchat/attribution/internal/leads"
	"github.com/orbitchat/attribution/pkg/logging"
)

var orderTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type stubLeadSource struct {
	leads   []leads.Lead
	err     error
	gotFrom time.Time
	gotTo   time.Time
}

func (s *stubLeadSource) FindByAgentAndWindow(_ context.Context, _ string, from, to time.Time) ([]leads.Lead, error) {
	s.gotFrom, s.gotTo = from, to
	if s.err != nil {
		return nil, s.err
	}
	// Emulate the store's window filter.
	var out []leads.Lead
	for _, l := range s.leads {
		if !l.CreatedAt.Before(from) && !l.CreatedAt.After(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

type stubConversationSource struct {
	convos       []conversations.Conversation
	withMessages map[string]bool
	listErr      error
	existsErr    error
	gotLimit     int
}

func (s *stubConversationSource) FindByAgentAndWindow(_ context.Context, _ string, from, to time.Time, limit int) ([]conversations.Conversation, error) {
	s.gotLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []conversations.Conversation
	for _, c := range s.convos {
		if !c.CreatedAt.Before(from) && !c.CreatedAt.After(to) {
			out = append(out, c)
		}
	}
	// Newest first, capped, like the store.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubConversationSource) HasMessages(_ context.Context, conversationID string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.withMessages[conversationID], nil
}

type stubTranscriptSource struct {
	transcripts map[string]string
	err         error
}

func (s *stubTranscriptSource) Transcript(_ context.Context, conversationID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.transcripts[conversationID], nil
}

func newTestEngine(ls *stubLeadSource, cs *stubConversationSource, ts *stubTranscriptSource) *Engine {
	if ls == nil {
		ls = &stubLeadSource{}
	}
	if cs == nil {
		cs = &stubConversationSource{withMessages: map[string]bool{}}
	}
	if ts == nil {
		ts = &stubTranscriptSource{transcripts: map[string]string{}}
	}
	return NewEngine(ls, cs, ts, logging.Default())
}

func lead(conversationID, email string, createdAt time.Time) leads.Lead {
	return leads.Lead{
		ID:             conversationID + "-lead",
		AgentID:        "agent-1",
		ConversationID: conversationID,
		Email:          email,
		EmailLower:     email, // stubs store lower-cased, like the schema
		CreatedAt:      createdAt,
	}
}

func TestAttributeEmailMatchWithFullProductMention(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "a@x.com", orderTime.Add(-30*time.Minute)),
	}}
	ts := &stubTranscriptSource{transcripts: map[string]string{
		"conv-1": "I was asking about the Trail Runner 2 and also the Alpine Jacket, do they ship fast?",
	}}
	engine := newTestEngine(ls, nil, ts)

	order := OrderEvent{
		OrderID:       "ord-1",
		CreatedAt:     orderTime,
		CustomerEmail: "a@x.com",
		LineItems: []LineItem{
			{ProductID: "p1", Title: "Trail Runner 2", Quantity: 1},
			{ProductID: "p2", Title: "Alpine Jacket", Quantity: 1},
		},
	}

	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-1", res.ConversationID)
	// 0.95 + 0.10 clamps to the 0.98 ceiling.
	require.InDelta(t, 0.98, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodEmailMatch, MethodProductMention}, res.Methods)
	require.Equal(t, []string{"conv-1"}, res.CandidateConversationIDs)
}

func TestAttributeTemporalFallbackNoEmail(t *testing.T) {
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			{ID: "conv-9", AgentID: "agent-1", CreatedAt: orderTime.Add(-time.Hour)},
		},
		withMessages: map[string]bool{"conv-9": true},
	}
	engine := newTestEngine(nil, cs, nil)

	order := OrderEvent{OrderID: "ord-2", CreatedAt: orderTime}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-9", res.ConversationID)
	require.InDelta(t, 0.50, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodTemporalProximity}, res.Methods)
	require.Equal(t, temporalCandidateLimit, cs.gotLimit)
}

func TestAttributeFallbackWhenEmailDoesNotMatch(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "someoneelse@x.com", orderTime.Add(-time.Hour)),
	}}
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			{ID: "conv-5", AgentID: "agent-1", CreatedAt: orderTime.Add(-3 * time.Hour)},
		},
		withMessages: map[string]bool{"conv-5": true},
	}
	engine := newTestEngine(ls, cs, nil)

	order := OrderEvent{OrderID: "ord-3", CreatedAt: orderTime, CustomerEmail: "b@y.com"}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-5", res.ConversationID)
	require.InDelta(t, 0.40, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodTemporalProximity}, res.Methods)
}

func TestAttributeMissReturnsZeroResult(t *testing.T) {
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			// In window but empty, so it cannot qualify.
			{ID: "conv-empty", AgentID: "agent-1", CreatedAt: orderTime.Add(-time.Hour)},
		},
		withMessages: map[string]bool{},
	}
	engine := newTestEngine(nil, cs, nil)

	order := OrderEvent{OrderID: "ord-4", CreatedAt: orderTime}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.False(t, res.Matched())
	require.Zero(t, res.Confidence)
	require.Empty(t, res.Methods)
	require.Empty(t, res.CandidateConversationIDs)
}

func TestAttributeEmailPrecedenceOverTemporal(t *testing.T) {
	// Both signals available: the identity match must win even though a
	// much fresher conversation exists.
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-old", "buyer@x.com", orderTime.Add(-11*time.Hour)),
	}}
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			{ID: "conv-fresh", AgentID: "agent-1", CreatedAt: orderTime.Add(-5 * time.Minute)},
		},
		withMessages: map[string]bool{"conv-fresh": true},
	}
	engine := newTestEngine(ls, cs, nil)

	order := OrderEvent{OrderID: "ord-5", CreatedAt: orderTime, CustomerEmail: "buyer@x.com"}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-old", res.ConversationID)
	require.Equal(t, []string{MethodEmailMatch}, res.Methods)
	require.InDelta(t, 0.75, res.Confidence, 1e-9)
}

func TestAttributeEmailCaseInsensitive(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "user@example.com", orderTime.Add(-2*time.Hour)),
	}}
	engine := newTestEngine(ls, nil, nil)

	order := OrderEvent{OrderID: "ord-6", CreatedAt: orderTime, CustomerEmail: "User@Example.com"}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-1", res.ConversationID)
	require.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestAttributeWindowExclusion(t *testing.T) {
	// Both a lead and a conversation exist, but an hour outside the
	// 24h lookback window. Neither may be selected.
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "a@x.com", orderTime.Add(-25*time.Hour)),
	}}
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			{ID: "conv-1", AgentID: "agent-1", CreatedAt: orderTime.Add(-25 * time.Hour)},
		},
		withMessages: map[string]bool{"conv-1": true},
	}
	engine := newTestEngine(ls, cs, nil)

	order := OrderEvent{OrderID: "ord-7", CreatedAt: orderTime, CustomerEmail: "a@x.com"}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.False(t, res.Matched())
	require.Equal(t, orderTime.Add(-LookbackWindow), ls.gotFrom)
	require.Equal(t, orderTime, ls.gotTo)
}

func TestAttributeMostRecentLeadWins(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-a", "a@x.com", orderTime.Add(-10*time.Hour)),
		lead("conv-b", "a@x.com", orderTime.Add(-20*time.Minute)),
		lead("conv-a", "a@x.com", orderTime.Add(-5*time.Hour)),
	}}
	engine := newTestEngine(ls, nil, nil)

	order := OrderEvent{OrderID: "ord-8", CreatedAt: orderTime, CustomerEmail: "a@x.com"}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-b", res.ConversationID)
	require.InDelta(t, 0.95, res.Confidence, 1e-9)
	// All matched conversations kept for audit, deduplicated.
	require.ElementsMatch(t, []string{"conv-a", "conv-b"}, res.CandidateConversationIDs)
}

func TestAttributePartialMentionSmallBoost(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "a@x.com", orderTime.Add(-30*time.Minute)),
	}}
	ts := &stubTranscriptSource{transcripts: map[string]string{
		"conv-1": "tell me about the trail runner 2",
	}}
	engine := newTestEngine(ls, nil, ts)

	order := OrderEvent{
		OrderID:       "ord-9",
		CreatedAt:     orderTime,
		CustomerEmail: "a@x.com",
		LineItems: []LineItem{
			{Title: "Trail Runner 2"},
			{Title: "Alpine Jacket"},
			{Title: "Summit Tent"},
		},
	}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	// 1 of 3 mentioned: below the half ratio, small boost only.
	require.InDelta(t, 0.95+0.05, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodEmailMatch, MethodProductMention}, res.Methods)
}

func TestAttributeNoMentionNoBoostNoTag(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "a@x.com", orderTime.Add(-30*time.Minute)),
	}}
	ts := &stubTranscriptSource{transcripts: map[string]string{
		"conv-1": "what are your opening hours?",
	}}
	engine := newTestEngine(ls, nil, ts)

	order := OrderEvent{
		OrderID:       "ord-10",
		CreatedAt:     orderTime,
		CustomerEmail: "a@x.com",
		LineItems:     []LineItem{{Title: "Alpine Jacket"}},
	}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.InDelta(t, 0.95, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodEmailMatch}, res.Methods)
}

func TestAttributeZeroLineItemsSkipsCorroboration(t *testing.T) {
	ls := &stubLeadSource{leads: []leads.Lead{
		lead("conv-1", "a@x.com", orderTime.Add(-30*time.Minute)),
	}}
	// Transcript source that fails: it must never be consulted.
	ts := &stubTranscriptSource{err: errors.New("unreachable")}
	engine := newTestEngine(ls, nil, ts)

	order := OrderEvent{OrderID: "ord-11", CreatedAt: orderTime, CustomerEmail: "a@x.com"}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.InDelta(t, 0.95, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodEmailMatch}, res.Methods)
}

func TestAttributeMentionBoostIsMonotonic(t *testing.T) {
	order := OrderEvent{
		OrderID:       "ord-12",
		CreatedAt:     orderTime,
		CustomerEmail: "a@x.com",
		LineItems:     []LineItem{{Title: "Alpine Jacket"}},
	}
	buildEngine := func(transcript string) *Engine {
		ls := &stubLeadSource{leads: []leads.Lead{
			lead("conv-1", "a@x.com", orderTime.Add(-30*time.Minute)),
		}}
		ts := &stubTranscriptSource{transcripts: map[string]string{"conv-1": transcript}}
		return newTestEngine(ls, nil, ts)
	}

	without, err := buildEngine("no product talk here").Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	with, err := buildEngine("thinking about the alpine jacket").Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, with.Confidence, without.Confidence)
}

func TestAttributeTemporalSkipsCorroboration(t *testing.T) {
	// The product-mention booster never runs after a temporal-only match,
	// even when the transcript names every purchased product.
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			{ID: "conv-9", AgentID: "agent-1", CreatedAt: orderTime.Add(-time.Hour)},
		},
		withMessages: map[string]bool{"conv-9": true},
	}
	ts := &stubTranscriptSource{transcripts: map[string]string{
		"conv-9": "alpine jacket alpine jacket",
	}}
	engine := newTestEngine(nil, cs, ts)

	order := OrderEvent{
		OrderID:   "ord-13",
		CreatedAt: orderTime,
		LineItems: []LineItem{{Title: "Alpine Jacket"}},
	}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.InDelta(t, 0.50, res.Confidence, 1e-9)
	require.Equal(t, []string{MethodTemporalProximity}, res.Methods)
}

func TestAttributeTemporalCandidatesKeptForAudit(t *testing.T) {
	cs := &stubConversationSource{
		convos: []conversations.Conversation{
			{ID: "conv-a", AgentID: "agent-1", CreatedAt: orderTime.Add(-4 * time.Hour)},
			{ID: "conv-b", AgentID: "agent-1", CreatedAt: orderTime.Add(-time.Hour)},
			{ID: "conv-empty", AgentID: "agent-1", CreatedAt: orderTime.Add(-30 * time.Minute)},
		},
		withMessages: map[string]bool{"conv-a": true, "conv-b": true},
	}
	engine := newTestEngine(nil, cs, nil)

	order := OrderEvent{OrderID: "ord-14", CreatedAt: orderTime}
	res, err := engine.Attribute(context.Background(), order, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "conv-b", res.ConversationID)
	require.Equal(t, []string{"conv-b", "conv-a"}, res.CandidateConversationIDs)
}

func TestAttributeStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("lead lookup", func(t *testing.T) {
		engine := newTestEngine(&stubLeadSource{err: boom}, nil, nil)
		_, err := engine.Attribute(context.Background(), OrderEvent{OrderID: "o", CreatedAt: orderTime, CustomerEmail: "a@x.com"}, "agent-1")
		require.ErrorIs(t, err, boom)
	})

	t.Run("conversation lookup", func(t *testing.T) {
		engine := newTestEngine(nil, &stubConversationSource{listErr: boom}, nil)
		_, err := engine.Attribute(context.Background(), OrderEvent{OrderID: "o", CreatedAt: orderTime}, "agent-1")
		require.ErrorIs(t, err, boom)
	})

	t.Run("message existence", func(t *testing.T) {
		cs := &stubConversationSource{
			convos:    []conversations.Conversation{{ID: "c", CreatedAt: orderTime.Add(-time.Hour)}},
			existsErr: boom,
		}
		engine := newTestEngine(nil, cs, nil)
		_, err := engine.Attribute(context.Background(), OrderEvent{OrderID: "o", CreatedAt: orderTime}, "agent-1")
		require.ErrorIs(t, err, boom)
	})

	t.Run("transcript lookup", func(t *testing.T) {
		ls := &stubLeadSource{leads: []leads.Lead{lead("c", "a@x.com", orderTime.Add(-time.Hour))}}
		engine := newTestEngine(ls, nil, &stubTranscriptSource{err: boom})
		order := OrderEvent{OrderID: "o", CreatedAt: orderTime, CustomerEmail: "a@x.com", LineItems: []LineItem{{Title: "x"}}}
		_, err := engine.Attribute(context.Background(), order, "agent-1")
		require.ErrorIs(t, err, boom)
	})
}

func TestEmailMatchBands(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{30 * time.Minute, 0.95},
		{59 * time.Minute, 0.95},
		{time.Hour, 0.85},
		{5*time.Hour + 59*time.Minute, 0.85},
		{6 * time.Hour, 0.75},
		{11 * time.Hour, 0.75},
		{12 * time.Hour, 0.70},
		{23 * time.Hour, 0.70},
		{24 * time.Hour, 0.70},
	}
	for _, tt := range tests {
		if got := bandScore(emailMatchBands, tt.elapsed); got != tt.want {
			t.Fatalf("emailMatchBands(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestTemporalBands(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{time.Hour, 0.50},
		{2 * time.Hour, 0.40},
		{5 * time.Hour, 0.40},
		{6 * time.Hour, 0.30},
		{23 * time.Hour, 0.30},
	}
	for _, tt := range tests {
		if got := bandScore(temporalBands, tt.elapsed); got != tt.want {
			t.Fatalf("temporalBands(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestConfidenceBoundsInvariant(t *testing.T) {
	// Every reachable outcome stays inside [0, 0.98], and zero confidence
	// coincides exactly with no conversation.
	scenarios := []struct {
		name  string
		ls    *stubLeadSource
		cs    *stubConversationSource
		ts    *stubTranscriptSource
		order OrderEvent
	}{
		{
			name: "boosted email match",
			ls:   &stubLeadSource{leads: []leads.Lead{lead("c", "a@x.com", orderTime.Add(-time.Minute))}},
			ts:   &stubTranscriptSource{transcripts: map[string]string{"c": "alpine jacket"}},
			order: OrderEvent{
				OrderID: "o", CreatedAt: orderTime, CustomerEmail: "a@x.com",
				LineItems: []LineItem{{Title: "Alpine Jacket"}},
			},
		},
		{
			name: "stale email match",
			ls:   &stubLeadSource{leads: []leads.Lead{lead("c", "a@x.com", orderTime.Add(-23*time.Hour))}},
			order: OrderEvent{OrderID: "o", CreatedAt: orderTime, CustomerEmail: "a@x.com"},
		},
		{
			name: "temporal",
			cs: &stubConversationSource{
				convos:       []conversations.Conversation{{ID: "c", CreatedAt: orderTime.Add(-10 * time.Hour)}},
				withMessages: map[string]bool{"c": true},
			},
			order: OrderEvent{OrderID: "o", CreatedAt: orderTime},
		},
		{
			name:  "miss",
			order: OrderEvent{OrderID: "o", CreatedAt: orderTime},
		},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(tc.ls, tc.cs, tc.ts)
			res, err := engine.Attribute(context.Background(), tc.order, "agent-1")
			require.NoError(t, err)
			require.GreaterOrEqual(t, res.Confidence, 0.0)
			require.LessOrEqual(t, res.Confidence, 0.98)
			require.Equal(t, res.Confidence == 0.0, res.ConversationID == "")
			if res.Matched() {
				require.NotEmpty(t, res.Methods)
				require.Contains(t, res.CandidateConversationIDs, res.ConversationID)
			}
		})
	}
}

func TestOrderEventValidate(t *testing.T) {
	valid := OrderEvent{OrderID: "ord-1", CreatedAt: orderTime}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid order, got %v", err)
	}

	missingID := OrderEvent{CreatedAt: orderTime}
	if err := missingID.Validate(); !errors.Is(err, ErrMissingOrderID) {
		t.Fatalf("expected ErrMissingOrderID, got %v", err)
	}

	missingTime := OrderEvent{OrderID: "ord-1"}
	if err := missingTime.Validate(); !errors.Is(err, ErrMissingOrderTime) {
		t.Fatalf("expected ErrMissingOrderTime, got %v", err)
	}
}
