package conversations

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orbitchat/attribution/pkg/logging"
)

const transcriptKeyPrefix = "transcript:"

// messageLister is the slice of Repository the provider needs.
type messageLister interface {
	FindMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// TranscriptProvider resolves a conversation's concatenated message text,
// caching the result in Redis. Transcripts are immutable once a purchase
// happens, so a short TTL cache absorbs repeated webhook lookups without a
// staleness problem worth coordinating over. Cache failures are soft: the
// provider falls back to the database.
type TranscriptProvider struct {
	repo   messageLister
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

// NewTranscriptProvider builds a provider. redisClient may be nil, in which
// case every lookup goes to the repository.
func NewTranscriptProvider(repo messageLister, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *TranscriptProvider {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TranscriptProvider{
		repo:   repo,
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("orbitchat.internal.conversations.transcript"),
	}
}

// Transcript returns every message's content joined with newlines, in
// message order.
func (p *TranscriptProvider) Transcript(ctx context.Context, conversationID string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "conversations.transcript")
	defer span.End()

	key := transcriptKey(conversationID)
	if p.redis != nil {
		cached, err := p.redis.Get(ctx, key).Result()
		if err == nil {
			return cached, nil
		}
		if err != redis.Nil {
			span.RecordError(err)
			p.logger.Warn("transcript cache read failed", "error", err, "conversation_id", conversationID)
		}
	}

	messages, err := p.repo.FindMessages(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	transcript := strings.Join(parts, "\n")

	if p.redis != nil {
		if err := p.redis.Set(ctx, key, transcript, p.ttl).Err(); err != nil {
			span.RecordError(err)
			p.logger.Warn("transcript cache write failed", "error", err, "conversation_id", conversationID)
		}
	}
	return transcript, nil
}

func transcriptKey(conversationID string) string {
	return transcriptKeyPrefix + conversationID
}
