package main

import (
	"context"
	"fmt"

	"github.com/kirillkom/fso-faq-assistant/internal/bootstrap"
	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// knowledgeAdmin is the set of index lifecycle operations the CLI drives.
type knowledgeAdmin interface {
	VectorSize(ctx context.Context) (int, error)
	Create(ctx context.Context, vectorSize int) error
	Delete(ctx context.Context) error
	Purge(ctx context.Context) error
	Import(ctx context.Context, entries []domain.KnowledgeEntry) (domain.WriteResult, error)
	Reindex(ctx context.Context, vectorSize int) (int, error)
	Stats(ctx context.Context) ([]languageStats, error)
}

type languageStats struct {
	Language domain.Language `json:"lang"`
	Stored   int             `json:"stored"`
	Indexed  int             `json:"indexed"`
}

type admin struct {
	ix *bootstrap.Indexing
}

func newAdmin(ix *bootstrap.Indexing) *admin {
	return &admin{ix: ix}
}

// VectorSize probes the embedding model once to learn its dimension.
func (a *admin) VectorSize(ctx context.Context) (int, error) {
	vector, err := a.ix.Embedder.EmbedQuery(ctx, "faculté des sciences oujda")
	if err != nil {
		return 0, fmt.Errorf("probe embedding size: %w", err)
	}
	return len(vector), nil
}

func (a *admin) Create(ctx context.Context, vectorSize int) error {
	return a.ix.Index.EnsureCollection(ctx, vectorSize)
}

func (a *admin) Delete(ctx context.Context) error {
	return a.ix.Index.DropCollection(ctx)
}

func (a *admin) Purge(ctx context.Context) error {
	return a.ix.Repo.Truncate(ctx)
}

func (a *admin) Import(ctx context.Context, entries []domain.KnowledgeEntry) (domain.WriteResult, error) {
	return a.ix.Indexer.Import(ctx, entries)
}

func (a *admin) Reindex(ctx context.Context, vectorSize int) (int, error) {
	return a.ix.Indexer.Reindex(ctx, vectorSize)
}

func (a *admin) Stats(ctx context.Context) ([]languageStats, error) {
	stored, err := a.ix.Repo.CountByLanguage(ctx)
	if err != nil {
		return nil, fmt.Errorf("count stored records: %w", err)
	}
	out := make([]languageStats, 0, len(domain.SupportedLanguages))
	for _, lang := range domain.SupportedLanguages {
		indexed, err := a.ix.Index.CountPoints(ctx, lang)
		if err != nil && !domain.IsKind(err, domain.ErrKnowledgeNotFound) {
			return nil, fmt.Errorf("count indexed %s records: %w", lang, err)
		}
		out = append(out, languageStats{Language: lang, Stored: stored[lang], Indexed: indexed})
	}
	return out, nil
}
