package ports

import (
	"context"
	"io"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// FAQService is the inbound contract for answering a single question.
// Only domain.ErrInvalidInput is returned as an error; every other failure is an envelope.
type FAQService interface {
	Ask(ctx context.Context, query domain.Query) (domain.AnswerEnvelope, error)
}

// AudioFAQService transcribes a spoken question and answers it.
type AudioFAQService interface {
	AskAudio(ctx context.Context, filename string, audio io.Reader, query domain.Query) (domain.AnswerEnvelope, error)
}

// KnowledgeIngestor is the inbound contract for adding entries to the knowledge base.
type KnowledgeIngestor interface {
	Write(ctx context.Context, entry domain.KnowledgeEntry) (domain.WriteResult, error)
	Import(ctx context.Context, entries []domain.KnowledgeEntry) (domain.WriteResult, error)
}
