package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

type classifierFake struct {
	lang        domain.Language
	inDomain    bool
	detectCalls int
	gateCalls   int
}

func (f *classifierFake) Detect(string) domain.Language {
	f.detectCalls++
	return f.lang
}

func (f *classifierFake) IsInDomain(string) bool {
	f.gateCalls++
	return f.inDomain
}

type embedderFake struct {
	mu         sync.Mutex
	queryCalls int
	batchCalls int
	err        error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type retrieverFake struct {
	hits  []domain.RetrievedHit
	err   error
	calls int
	last  domain.RetrievalRequest
}

func (f *retrieverFake) Retrieve(_ context.Context, req domain.RetrievalRequest) ([]domain.RetrievedHit, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type webSourceFake struct {
	mu       sync.Mutex
	snippets []domain.RawSnippet
	err      error
	calls    int
	block    chan struct{}
}

func (f *webSourceFake) FetchSnippets(ctx context.Context, _ string, _ domain.Language) ([]domain.RawSnippet, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

func (f *webSourceFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type synthesizerFake struct {
	text         string
	err          error
	enhanceText  string
	enhanceErr   error
	calls        int
	enhanceCalls int
	requests     []domain.SynthesisRequest
}

func (f *synthesizerFake) Synthesize(_ context.Context, req domain.SynthesisRequest) (domain.SynthesisResult, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.SynthesisResult{}, f.err
	}
	return domain.SynthesisResult{Text: f.text}, nil
}

func (f *synthesizerFake) Enhance(context.Context, string, string, map[string]any, domain.Language) (string, error) {
	f.enhanceCalls++
	if f.enhanceErr != nil {
		return "", f.enhanceErr
	}
	return f.enhanceText, nil
}

type writerFake struct {
	entries []domain.KnowledgeEntry
	err     error
}

func (f *writerFake) Write(_ context.Context, entry domain.KnowledgeEntry) (domain.WriteResult, error) {
	if f.err != nil {
		return domain.WriteResult{}, f.err
	}
	f.entries = append(f.entries, entry)
	return domain.WriteResult{Success: true, AddedCount: len(entry.Records())}, nil
}

type observerFake struct {
	answers  []domain.AnswerEnvelope
	failures []string
}

func (f *observerFake) ObserveAnswer(env domain.AnswerEnvelope) { f.answers = append(f.answers, env) }
func (f *observerFake) ObserveStageFailure(stage string)        { f.failures = append(f.failures, stage) }

var errUpstream = errors.New("upstream unavailable")
