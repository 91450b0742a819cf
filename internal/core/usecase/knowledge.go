package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
)

// recordNamespace seeds deterministic record IDs so repeated writes of the same pair upsert.
var recordNamespace = uuid.MustParse("6f0b7f6e-3c1d-4d35-9a51-2f3f1c7a9e40")

type IndexLimits struct {
	BatchSize   int
	Concurrency int
}

// KnowledgeIndexer embeds knowledge records and writes them to the index and the repository.
type KnowledgeIndexer struct {
	embedder ports.Embedder
	index    ports.KnowledgeIndex
	repo     ports.KnowledgeRepository
	limits   IndexLimits
	now      func() time.Time
}

func NewKnowledgeIndexer(
	embedder ports.Embedder,
	index ports.KnowledgeIndex,
	repo ports.KnowledgeRepository,
	limits IndexLimits,
) *KnowledgeIndexer {
	if limits.BatchSize <= 0 {
		limits.BatchSize = 32
	}
	if limits.Concurrency <= 0 {
		limits.Concurrency = 4
	}
	return &KnowledgeIndexer{
		embedder: embedder,
		index:    index,
		repo:     repo,
		limits:   limits,
		now:      time.Now,
	}
}

func (uc *KnowledgeIndexer) Write(ctx context.Context, entry domain.KnowledgeEntry) (domain.WriteResult, error) {
	return uc.Import(ctx, []domain.KnowledgeEntry{entry})
}

// Import flattens entries into records, one per question string, and indexes them.
// Entries whose languages lack answers contribute nothing.
func (uc *KnowledgeIndexer) Import(ctx context.Context, entries []domain.KnowledgeEntry) (domain.WriteResult, error) {
	now := uc.now().UTC()
	var records []domain.KnowledgeRecord
	for _, entry := range entries {
		for _, rec := range entry.Records() {
			rec.ID = RecordID(rec)
			rec.CreatedAt = now
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return domain.WriteResult{Success: false, AddedCount: 0}, nil
	}

	vectors, err := uc.embedRecords(ctx, records)
	if err != nil {
		return domain.WriteResult{}, err
	}

	for start := 0; start < len(records); start += uc.limits.BatchSize {
		end := min(start+uc.limits.BatchSize, len(records))
		if err := uc.index.Upsert(ctx, records[start:end], vectors[start:end]); err != nil {
			return domain.WriteResult{}, fmt.Errorf("upsert knowledge records: %w", err)
		}
	}

	if uc.repo != nil {
		if _, err := uc.repo.InsertRecords(ctx, records); err != nil {
			return domain.WriteResult{}, fmt.Errorf("store knowledge records: %w", err)
		}
	}
	return domain.WriteResult{Success: true, AddedCount: len(records)}, nil
}

// Reindex rebuilds the index from the repository copy of every language.
func (uc *KnowledgeIndexer) Reindex(ctx context.Context, vectorSize int) (int, error) {
	if uc.repo == nil {
		return 0, errors.New("reindex requires a knowledge repository")
	}
	if err := uc.index.DropCollection(ctx); err != nil && !domain.IsKind(err, domain.ErrKnowledgeNotFound) {
		return 0, fmt.Errorf("drop collection: %w", err)
	}
	if err := uc.index.EnsureCollection(ctx, vectorSize); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}

	total := 0
	for _, lang := range domain.SupportedLanguages {
		records, err := uc.repo.ListRecords(ctx, lang, 0)
		if err != nil {
			return total, fmt.Errorf("list %s records: %w", lang, err)
		}
		if len(records) == 0 {
			continue
		}
		vectors, err := uc.embedRecords(ctx, records)
		if err != nil {
			return total, err
		}
		for start := 0; start < len(records); start += uc.limits.BatchSize {
			end := min(start+uc.limits.BatchSize, len(records))
			if err := uc.index.Upsert(ctx, records[start:end], vectors[start:end]); err != nil {
				return total, fmt.Errorf("upsert knowledge records: %w", err)
			}
		}
		total += len(records)
	}
	return total, nil
}

func (uc *KnowledgeIndexer) embedRecords(ctx context.Context, records []domain.KnowledgeRecord) ([][]float32, error) {
	vectors := make([][]float32, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.limits.Concurrency)

	for start := 0; start < len(records); start += uc.limits.BatchSize {
		start, end := start, min(start+uc.limits.BatchSize, len(records))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, rec := range records[start:end] {
				texts = append(texts, rec.Question)
			}
			batch, err := uc.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed records %d-%d: %w", start, end, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embed records %d-%d: got %d vectors for %d texts", start, end, len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// RecordID derives a stable identifier from the language, question and answer.
func RecordID(rec domain.KnowledgeRecord) string {
	return uuid.NewSHA1(recordNamespace, []byte(string(rec.Language)+"\x00"+rec.Question+"\x00"+rec.Answer)).String()
}

// QueuedKnowledgeWriter hands entries to the indexing worker through the queue.
type QueuedKnowledgeWriter struct {
	queue ports.KnowledgeQueue
}

func NewQueuedKnowledgeWriter(queue ports.KnowledgeQueue) *QueuedKnowledgeWriter {
	return &QueuedKnowledgeWriter{queue: queue}
}

func (w *QueuedKnowledgeWriter) Write(ctx context.Context, entry domain.KnowledgeEntry) (domain.WriteResult, error) {
	records := entry.Records()
	if len(records) == 0 {
		return domain.WriteResult{Success: false, AddedCount: 0}, nil
	}
	if err := w.queue.PublishKnowledgeEntry(ctx, entry); err != nil {
		return domain.WriteResult{}, fmt.Errorf("publish knowledge entry: %w", err)
	}
	return domain.WriteResult{Success: true, AddedCount: len(records)}, nil
}
