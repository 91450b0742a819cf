package ports

import (
	"context"
	"io"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// LanguageClassifier resolves the question language and its topical relevance.
type LanguageClassifier interface {
	Detect(text string) domain.Language
	IsInDomain(text string) bool
}

// Embedder builds vectors for knowledge records and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeRetriever returns hits in the requested language, ranked by native score.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.RetrievedHit, error)
}

// KnowledgeIndex manages the searchable index behind KnowledgeRetriever.
type KnowledgeIndex interface {
	KnowledgeRetriever
	EnsureCollection(ctx context.Context, vectorSize int) error
	Upsert(ctx context.Context, records []domain.KnowledgeRecord, vectors [][]float32) error
	DropCollection(ctx context.Context) error
}

// WebSnippetSource returns raw, allow-listed snippets. An empty result is not an error.
type WebSnippetSource interface {
	FetchSnippets(ctx context.Context, query string, lang domain.Language) ([]domain.RawSnippet, error)
}

// AnswerSynthesizer turns a question and evidence into a natural-language answer.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, req domain.SynthesisRequest) (domain.SynthesisResult, error)
	// Enhance returns only the information from extra that the answer lacks.
	Enhance(ctx context.Context, question, answer string, extra map[string]any, lang domain.Language) (string, error)
}

// KnowledgeWriter persists multilingual entries.
type KnowledgeWriter interface {
	Write(ctx context.Context, entry domain.KnowledgeEntry) (domain.WriteResult, error)
}

// KnowledgeRepository stores the durable copy of indexed records.
type KnowledgeRepository interface {
	InsertRecords(ctx context.Context, records []domain.KnowledgeRecord) (int, error)
	ListRecords(ctx context.Context, lang domain.Language, limit int) ([]domain.KnowledgeRecord, error)
	CountByLanguage(ctx context.Context) (map[domain.Language]int, error)
	Truncate(ctx context.Context) error
}

// KnowledgeQueue carries entries from the request path to the indexing worker.
type KnowledgeQueue interface {
	PublishKnowledgeEntry(ctx context.Context, entry domain.KnowledgeEntry) error
	SubscribeKnowledgeEntries(ctx context.Context, handler func(context.Context, domain.KnowledgeEntry) error) error
}

// Transcriber converts spoken audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (domain.Transcription, error)
}
