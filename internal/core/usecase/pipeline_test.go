package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/locale"
	"github.com/kirillkom/fso-faq-assistant/internal/core/relevance"
)

type pipelineFixture struct {
	classifier  *classifierFake
	embedder    *embedderFake
	retriever   *retrieverFake
	web         *webSourceFake
	synthesizer *synthesizerFake
	writer      *writerFake
	observer    *observerFake
	messages    *locale.Messages
	pipeline    *FAQPipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	messages, err := locale.Default()
	if err != nil {
		t.Fatalf("locale.Default() error = %v", err)
	}
	f := &pipelineFixture{
		classifier:  &classifierFake{lang: domain.LangFrench, inDomain: true},
		embedder:    &embedderFake{},
		retriever:   &retrieverFake{},
		web:         &webSourceFake{},
		synthesizer: &synthesizerFake{text: "Réponse structurée."},
		writer:      &writerFake{},
		observer:    &observerFake{},
		messages:    messages.WithSeed(1),
	}
	f.build(domain.PipelineLimits{})
	return f
}

func (f *pipelineFixture) build(limits domain.PipelineLimits) {
	fallback := NewWebFallback(f.web, relevance.NewScorer(), WebFallbackLimits{Workers: 1, Budget: time.Second})
	f.pipeline = NewFAQPipeline(
		f.classifier, f.embedder, f.retriever, fallback, f.synthesizer, f.writer, f.messages, limits,
		WithObserver(f.observer),
	)
}

func question(text string) domain.Query {
	return domain.Query{Text: text, UseLLM: true}
}

func threshold(v float64) *float64 {
	return &v
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline.Ask(context.Background(), question("   "))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.classifier.detectCalls+f.classifier.gateCalls+f.embedder.queryCalls+f.retriever.calls+f.synthesizer.calls != 0 {
		t.Fatalf("expected no collaborator calls for empty question")
	}
}

// Scores 85/40/30 normalize to 0.85/0.40/0.30 and give 0.67.
func TestAskAnswersFromKnowledgeBase(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{
		{Question: "q1", Answer: "a1", Score: 85, Origin: domain.OriginKnowledgeBase},
		{Question: "q2", Answer: "a2", Score: 40, Origin: domain.OriginKnowledgeBase},
		{Question: "q3", Answer: "a3", Score: 30, Origin: domain.OriginKnowledgeBase},
	}

	env, err := f.pipeline.Ask(context.Background(), question("Comment s'inscrire ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Confidence != 0.67 {
		t.Fatalf("expected confidence 0.67, got %v", env.Confidence)
	}
	if env.Basis != domain.BasisKnowledgeBase || env.Scope != domain.ScopeFSORelated || env.SearchSource != domain.SourceDatabase {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.SourcesUsed != 3 || len(env.RawResults) != 3 {
		t.Fatalf("expected 3 sources, got %d", env.SourcesUsed)
	}
	if !env.LLMUsed || env.ResponseText != "Réponse structurée." {
		t.Fatalf("unexpected response: %+v", env)
	}
	if f.web.callCount() != 0 {
		t.Fatalf("web fallback must not run for accepted knowledge")
	}
	if f.retriever.last.Language != domain.LangFrench || f.retriever.last.Limit != 3 {
		t.Fatalf("unexpected retrieval request: %+v", f.retriever.last)
	}
	if got := f.synthesizer.requests[0]; got.Mode != domain.SynthesisFromKnowledge || len(got.Evidence) != 3 {
		t.Fatalf("unexpected synthesis request: %+v", got)
	}
}

// No hits for an in-domain question goes to general knowledge and is persisted.
func TestAskUsesGeneralKnowledgeAndPersists(t *testing.T) {
	f := newPipelineFixture(t)
	f.synthesizer.text = "La FSO propose des licences et des masters."

	env, err := f.pipeline.Ask(context.Background(), question("Quelles filières propose la FSO ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Basis != domain.BasisGeneralKnowledge || env.SearchSource != domain.SourceLLM {
		t.Fatalf("unexpected basis: %+v", env)
	}
	if env.Confidence != 0.75 || env.SourcesUsed != 0 {
		t.Fatalf("unexpected confidence/sources: %v/%d", env.Confidence, env.SourcesUsed)
	}
	if len(f.writer.entries) != 1 {
		t.Fatalf("expected one persisted entry, got %d", len(f.writer.entries))
	}
	entry := f.writer.entries[0]
	if got := entry.Question[domain.LangFrench]; len(got) != 1 || got[0] != "Quelles filières propose la FSO ?" {
		t.Fatalf("unexpected persisted question: %+v", entry.Question)
	}
	if got := entry.Answer[domain.LangFrench]; len(got) != 1 || got[0] != f.synthesizer.text {
		t.Fatalf("unexpected persisted answer: %+v", entry.Answer)
	}
	if got := entry.Metadata[domain.LangFrench]; len(got) != 1 || !strings.Contains(got[0], "Connaissances générales") {
		t.Fatalf("unexpected persisted metadata: %+v", entry.Metadata)
	}
	if f.synthesizer.requests[0].Mode != domain.SynthesisGeneral {
		t.Fatalf("expected general synthesis mode")
	}
	if f.web.callCount() != 0 {
		t.Fatalf("web fallback must not run when there are no hits")
	}
	if f.classifier.gateCalls != 1 {
		t.Fatalf("expected the topic gate to run once, got %d", f.classifier.gateCalls)
	}
}

// An off-topic question triggers no retrieval, web or synthesis calls.
func TestAskRejectsOffTopicWithoutCalls(t *testing.T) {
	f := newPipelineFixture(t)
	f.classifier.lang = domain.LangEnglish
	f.classifier.inDomain = false

	env, err := f.pipeline.Ask(context.Background(), question("What time is it?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Scope != domain.ScopeNotRelated {
		t.Fatalf("expected not_related, got %s", env.Scope)
	}
	if !slices.Contains(f.messages.PoliteVariants(domain.LangEnglish), env.ResponseText) {
		t.Fatalf("expected an english polite non-answer, got %q", env.ResponseText)
	}
	if f.embedder.queryCalls != 0 || f.retriever.calls != 0 || f.web.callCount() != 0 || f.synthesizer.calls != 0 {
		t.Fatalf("expected zero collaborator calls")
	}
	if env.Confidence != 0 || env.SourcesUsed != 0 || env.LLMUsed {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

// Low-confidence hits escalate to the web; five snippets are ranked, three used.
func TestAskFallsBackToWeb(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{
		{Question: "q1", Answer: "a1", Score: 0.3},
		{Question: "q2", Answer: "a2", Score: 0.25},
	}
	f.web.snippets = []domain.RawSnippet{
		{Title: "Calendrier", URL: "https://fso.ump.ma/1", Snippet: "Le calendrier des examens de rattrapage est publié sur le site de la faculté."},
		{Title: "Résultats", URL: "https://fso.ump.ma/2", Snippet: "Les résultats des examens de rattrapage sont affichés au département concerné."},
		{Title: "Bourse", URL: "https://fso.ump.ma/3", Snippet: "Les demandes de bourse sont déposées en ligne avant la fin du mois d'octobre."},
		{Title: "Rattrapage", URL: "https://fso.ump.ma/4", Snippet: "Les examens de rattrapage ont lieu deux semaines après la session normale."},
		{Title: "Bibliothèque", URL: "https://fso.ump.ma/5", Snippet: "La bibliothèque de la faculté est ouverte du lundi au samedi de 8h à 18h."},
	}
	q := question("Quand ont lieu les examens de rattrapage ?")
	q.ScoreThreshold = threshold(0.2)

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Basis != domain.BasisWebFallback || env.SearchSource != domain.SourceInternet || env.Scope != domain.ScopeFSORelated {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if f.web.callCount() != 1 {
		t.Fatalf("expected one web search, got %d", f.web.callCount())
	}
	req := f.synthesizer.requests[0]
	if req.Mode != domain.SynthesisFromWeb || len(req.Evidence) != 3 {
		t.Fatalf("expected 3 web evidence items, got %+v", req)
	}
	for i := 1; i < len(req.Evidence); i++ {
		if req.Evidence[i].Score > req.Evidence[i-1].Score {
			t.Fatalf("web evidence not ranked")
		}
	}
	for _, h := range req.Evidence {
		if h.Origin != domain.OriginWeb {
			t.Fatalf("expected only web evidence, got %s", h.Origin)
		}
	}
	if env.SourcesUsed != 3 || env.Confidence <= 0 || env.Confidence > 1 {
		t.Fatalf("unexpected sources/confidence: %d/%v", env.SourcesUsed, env.Confidence)
	}
	if len(f.writer.entries) != 0 {
		t.Fatalf("web answers are not persisted unless enabled")
	}
}

func TestAskWebFallbackWithoutSnippetsReturnsNoResults(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.3}}
	f.web.snippets = []domain.RawSnippet{{Snippet: "trop court"}}
	q := question("Où se trouve le département de physique ?")
	q.ScoreThreshold = threshold(0.2)

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Scope != domain.ScopeNoResults || env.ResponseText != f.messages.NoResults(domain.LangFrench) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if f.synthesizer.calls != 0 {
		t.Fatalf("synthesizer must not run without evidence")
	}
}

func TestAskWebFallbackFailureReturnsErrorEnvelope(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.3}}
	f.web.err = domain.WrapError(domain.ErrFallbackBlocked, "fetch snippets", errors.New("captcha"))
	q := question("Où se trouve le département de physique ?")
	q.ScoreThreshold = threshold(0.2)

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Scope != domain.ScopeError || env.Confidence != 0 || env.SourcesUsed != 0 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !slices.Contains(f.observer.failures, stageFallback) {
		t.Fatalf("expected web fallback failure to be observed, got %v", f.observer.failures)
	}
}

// A retriever failure is treated as zero hits and still yields a finished envelope.
func TestAskSurvivesRetrieverFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.err = errUpstream

	env, err := f.pipeline.Ask(context.Background(), question("Comment obtenir une attestation ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Scope == "" || env.DetectedLanguage != domain.LangFrench {
		t.Fatalf("expected a finished envelope, got %+v", env)
	}
	if env.Basis != domain.BasisGeneralKnowledge {
		t.Fatalf("expected general knowledge after retrieval failure, got %s", env.Basis)
	}
	if !slices.Contains(f.observer.failures, stageRetrieve) {
		t.Fatalf("expected retrieval failure to be observed")
	}
}

func TestAskSurvivesEmbedderFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.embedder.err = errUpstream
	f.synthesizer.err = errUpstream

	env, err := f.pipeline.Ask(context.Background(), question("Comment obtenir une attestation ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Scope != domain.ScopeError || env.Confidence != 0 {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if f.retriever.calls != 0 {
		t.Fatalf("retriever must not run without a query vector")
	}
	if len(f.writer.entries) != 0 {
		t.Fatalf("failed synthesis must not be persisted")
	}
}

func TestAskSynthesisFailureReturnsPreview(t *testing.T) {
	f := newPipelineFixture(t)
	long := strings.Repeat("Les inscriptions se font en ligne. ", 20)
	f.retriever.hits = []domain.RetrievedHit{{Question: "q", Answer: long, Score: 95}}
	f.synthesizer.err = errUpstream

	env, err := f.pipeline.Ask(context.Background(), question("Comment s'inscrire ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Confidence != 0.4 {
		t.Fatalf("expected preview confidence 0.4, got %v", env.Confidence)
	}
	if env.LLMUsed || !strings.HasSuffix(env.ResponseText, "...") {
		t.Fatalf("expected truncated preview, got %q", env.ResponseText)
	}
	if env.Scope != domain.ScopeFSORelated || env.SourcesUsed != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestAskHonorsSupportedCallerLanguage(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.9}}
	q := question("كيف أسجل في الماستر؟")
	q.Language = domain.LangArabic

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if f.classifier.detectCalls != 0 {
		t.Fatalf("detector must not run for a supported caller language")
	}
	if env.DetectedLanguage != domain.LangArabic || f.retriever.last.Language != domain.LangArabic {
		t.Fatalf("expected arabic, got %s / %s", env.DetectedLanguage, f.retriever.last.Language)
	}
}

func TestAskFiltersHitsBelowThreshold(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{
		{Answer: "a", Score: 0.5},
		{Answer: "", Score: 0.99},
		{Answer: " \n\t", Score: 0.99},
	}

	env, err := f.pipeline.Ask(context.Background(), question("Comment s'inscrire ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Basis != domain.BasisGeneralKnowledge {
		t.Fatalf("expected hits below threshold or without answer to be ignored, got %s", env.Basis)
	}
}

func TestAskKeepsExplicitZeroThreshold(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Question: "q", Answer: "a", Score: 0.6}}
	q := question("Comment s'inscrire ?")
	q.ScoreThreshold = threshold(0)

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if f.retriever.last.ScoreThreshold != 0 {
		t.Fatalf("retriever threshold = %v, want 0", f.retriever.last.ScoreThreshold)
	}
	if env.Basis != domain.BasisKnowledgeBase || env.SourcesUsed != 1 || env.Confidence != 0.65 {
		t.Fatalf("expected the 0.6 hit to answer, got %+v", env)
	}
}

func TestAskDefaultsMissingThreshold(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Question: "q", Answer: "a", Score: 0.6}}

	env, err := f.pipeline.Ask(context.Background(), question("Comment s'inscrire ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if f.retriever.last.ScoreThreshold != 0.7 {
		t.Fatalf("retriever threshold = %v, want 0.7", f.retriever.last.ScoreThreshold)
	}
	if env.Basis != domain.BasisGeneralKnowledge {
		t.Fatalf("expected the 0.6 hit to be filtered, got %s", env.Basis)
	}
}

func TestAskLogsLanguageOnce(t *testing.T) {
	f := newPipelineFixture(t)
	var buf bytes.Buffer
	f.pipeline = NewFAQPipeline(
		f.classifier, f.embedder, f.retriever, nil, f.synthesizer, f.writer, f.messages, domain.PipelineLimits{},
		WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
	)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.95}}

	if _, err := f.pipeline.Ask(context.Background(), question("Comment s'inscrire ?")); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "faq_pipeline_completed") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("missing completion log in %q", buf.String())
	}
	if n := strings.Count(line, `"lang":`); n != 1 {
		t.Fatalf("expected one lang attribute, got %d in %s", n, line)
	}
}

func TestAskEnhancesWithContextAndDeduplicates(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.95}}
	f.synthesizer.text = "Les inscriptions ouvrent en septembre."
	f.synthesizer.enhanceText = "Les inscriptions ouvrent en septembre.\n\nVous êtes en première année."
	q := question("Quand ouvrent les inscriptions ?")
	q.ExtraContext = map[string]any{"level": "L1"}

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	want := "Les inscriptions ouvrent en septembre.\n\nVous êtes en première année."
	if env.ResponseText != want {
		t.Fatalf("ResponseText = %q, want %q", env.ResponseText, want)
	}
	if f.synthesizer.enhanceCalls != 1 {
		t.Fatalf("expected one enhancement call, got %d", f.synthesizer.enhanceCalls)
	}
}

func TestAskEnhancementFailureKeepsAnswer(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.95}}
	f.synthesizer.enhanceErr = errUpstream
	q := question("Quand ouvrent les inscriptions ?")
	q.ExtraContext = map[string]any{"level": "L1"}

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.ResponseText != "Réponse structurée." || env.Basis != domain.BasisKnowledgeBase {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestAskWithoutLLMReturnsBestEvidence(t *testing.T) {
	f := newPipelineFixture(t)
	f.retriever.hits = []domain.RetrievedHit{{Answer: "Réponse brute.", Score: 0.95}}
	q := question("Quand ouvrent les inscriptions ?")
	q.UseLLM = false

	env, err := f.pipeline.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.LLMUsed || env.ResponseText != "Réponse brute." || f.synthesizer.calls != 0 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestAskPersistenceFailureIsNotFatal(t *testing.T) {
	f := newPipelineFixture(t)
	f.writer.err = errUpstream

	env, err := f.pipeline.Ask(context.Background(), question("Quelles filières propose la FSO ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Basis != domain.BasisGeneralKnowledge || env.Scope != domain.ScopeFSORelated {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !slices.Contains(f.observer.failures, stagePersist) {
		t.Fatalf("expected persistence failure to be observed")
	}
}

func TestAskPersistsWebAnswersWhenEnabled(t *testing.T) {
	f := newPipelineFixture(t)
	f.build(domain.PipelineLimits{PersistWebAnswers: true})
	f.retriever.hits = []domain.RetrievedHit{{Answer: "a", Score: 0.3}}
	f.web.snippets = []domain.RawSnippet{
		{URL: "https://fso.ump.ma/x", Snippet: "Les examens de rattrapage ont lieu deux semaines après la session normale."},
	}
	q := question("Quand ont lieu les examens de rattrapage ?")
	q.ScoreThreshold = threshold(0.2)

	if _, err := f.pipeline.Ask(context.Background(), q); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(f.writer.entries) != 1 {
		t.Fatalf("expected web answer to be persisted")
	}
	if meta := f.writer.entries[0].Metadata[domain.LangFrench]; len(meta) != 1 || !strings.Contains(meta[0], "https://fso.ump.ma/x") {
		t.Fatalf("expected source url in metadata, got %+v", meta)
	}
}

func TestAskReportsProcessingTime(t *testing.T) {
	f := newPipelineFixture(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	f.pipeline = NewFAQPipeline(
		f.classifier, f.embedder, f.retriever, nil, f.synthesizer, f.writer, f.messages, domain.PipelineLimits{},
		WithClock(func() time.Time {
			calls++
			return clock.Add(time.Duration(calls-1) * 1500 * time.Millisecond)
		}),
	)
	f.classifier.inDomain = false

	env, err := f.pipeline.Ask(context.Background(), question("Bonjour"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.ProcessingTime != 1.5 {
		t.Fatalf("expected 1.5s processing time, got %v", env.ProcessingTime)
	}
}

func TestAskObservesEveryAnswer(t *testing.T) {
	f := newPipelineFixture(t)
	f.classifier.inDomain = false
	for i := 0; i < 3; i++ {
		if _, err := f.pipeline.Ask(context.Background(), question("Bonjour")); err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
	}
	if len(f.observer.answers) != 3 {
		t.Fatalf("expected 3 observed answers, got %d", len(f.observer.answers))
	}
}

type panickingRetriever struct{}

func (panickingRetriever) Retrieve(context.Context, domain.RetrievalRequest) ([]domain.RetrievedHit, error) {
	panic("index corrupted")
}

func TestAskRecoversFromCollaboratorPanic(t *testing.T) {
	f := newPipelineFixture(t)
	f.pipeline = NewFAQPipeline(f.classifier, f.embedder, panickingRetriever{}, nil, f.synthesizer, f.writer, f.messages, domain.PipelineLimits{})

	env, err := f.pipeline.Ask(context.Background(), question("Comment s'inscrire ?"))
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if env.Scope != domain.ScopeError || env.DetectedLanguage != domain.LangFrench {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
