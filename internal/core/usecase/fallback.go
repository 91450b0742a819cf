package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
	"github.com/kirillkom/fso-faq-assistant/internal/core/relevance"
)

type WebFallbackLimits struct {
	Workers  int
	Budget   time.Duration
	MinScore float64
}

// WebFallback runs web searches on a bounded pool of worker slots. Identical concurrent
// searches share one outbound call.
type WebFallback struct {
	source ports.WebSnippetSource
	scorer *relevance.Scorer
	slots  *semaphore.Weighted
	flight singleflight.Group
	limits WebFallbackLimits
}

func NewWebFallback(source ports.WebSnippetSource, scorer *relevance.Scorer, limits WebFallbackLimits) *WebFallback {
	if limits.Workers <= 0 {
		limits.Workers = 2
	}
	if limits.Budget <= 0 {
		limits.Budget = 20 * time.Second
	}
	if limits.MinScore <= 0 {
		limits.MinScore = relevance.DefaultMinScore
	}
	if scorer == nil {
		scorer = relevance.NewScorer()
	}
	return &WebFallback{
		source: source,
		scorer: scorer,
		slots:  semaphore.NewWeighted(int64(limits.Workers)),
		limits: limits,
	}
}

type fallbackResult struct {
	raw    int
	ranked []domain.ScoredSnippet
}

// Search fetches and ranks snippets for question. It returns at most topK snippets and the
// number of raw snippets fetched. The caller stops waiting when ctx ends or the budget runs out;
// the shared search itself is bounded by the budget only.
func (f *WebFallback) Search(ctx context.Context, question string, lang domain.Language, topK int) ([]domain.ScoredSnippet, int, error) {
	key := string(lang) + "\x00" + strings.ToLower(strings.Join(strings.Fields(question), " "))

	ch := f.flight.DoChan(key, func() (any, error) {
		searchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.limits.Budget)
		defer cancel()

		if err := f.slots.Acquire(searchCtx, 1); err != nil {
			return nil, fmt.Errorf("acquire fallback slot: %w", err)
		}
		defer f.slots.Release(1)

		snippets, err := f.source.FetchSnippets(searchCtx, question, lang)
		if err != nil {
			return nil, err
		}
		return fallbackResult{
			raw:    len(snippets),
			ranked: f.scorer.Rank(question, snippets, f.limits.MinScore, 0),
		}, nil
	})

	timer := time.NewTimer(f.limits.Budget)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-timer.C:
		return nil, 0, fmt.Errorf("web fallback: budget of %s exceeded: %w", f.limits.Budget, context.DeadlineExceeded)
	case res := <-ch:
		if res.Err != nil {
			return nil, 0, res.Err
		}
		out := res.Val.(fallbackResult)
		ranked := out.ranked
		if topK > 0 && len(ranked) > topK {
			ranked = ranked[:topK]
		}
		return ranked, out.raw, nil
	}
}
