package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/locale"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
)

const (
	stageRetrieve   = "retrieval"
	stageFallback   = "web_fallback"
	stageSynthesize = "synthesis"
	stageEnhance    = "enhancement"
	stagePersist    = "knowledge_write"
)

// PipelineObserver receives one event per finished question and one per failed stage.
type PipelineObserver interface {
	ObserveAnswer(env domain.AnswerEnvelope)
	ObserveStageFailure(stage string)
}

type noopObserver struct{}

func (noopObserver) ObserveAnswer(domain.AnswerEnvelope) {}
func (noopObserver) ObserveStageFailure(string)          {}

// FAQPipeline answers questions: classify, retrieve, score, decide, synthesize.
// Ask only returns domain.ErrInvalidInput; every other failure becomes an envelope.
type FAQPipeline struct {
	classifier  ports.LanguageClassifier
	embedder    ports.Embedder
	retriever   ports.KnowledgeRetriever
	fallback    *WebFallback
	synthesizer ports.AnswerSynthesizer
	writer      ports.KnowledgeWriter
	messages    *locale.Messages
	limits      domain.PipelineLimits
	observer    PipelineObserver
	logger      *slog.Logger
	now         func() time.Time
}

type PipelineOption func(*FAQPipeline)

func WithObserver(observer PipelineObserver) PipelineOption {
	return func(p *FAQPipeline) {
		if observer != nil {
			p.observer = observer
		}
	}
}

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *FAQPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *FAQPipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewFAQPipeline(
	classifier ports.LanguageClassifier,
	embedder ports.Embedder,
	retriever ports.KnowledgeRetriever,
	fallback *WebFallback,
	synthesizer ports.AnswerSynthesizer,
	writer ports.KnowledgeWriter,
	messages *locale.Messages,
	limits domain.PipelineLimits,
	opts ...PipelineOption,
) *FAQPipeline {
	p := &FAQPipeline{
		classifier:  classifier,
		embedder:    embedder,
		retriever:   retriever,
		fallback:    fallback,
		synthesizer: synthesizer,
		writer:      writer,
		messages:    messages,
		limits:      limits.WithDefaults(),
		observer:    noopObserver{},
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the per-request state of one pipeline execution.
type run struct {
	ctx       context.Context
	query     domain.Query
	threshold float64
	lang      domain.Language
	start     time.Time
	state     domain.PipelineState
	log       *slog.Logger
}

func (r *run) advance(state domain.PipelineState) {
	r.state = state
}

func (p *FAQPipeline) Ask(ctx context.Context, query domain.Query) (env domain.AnswerEnvelope, err error) {
	query.Text = strings.TrimSpace(query.Text)
	if query.Text == "" {
		return domain.AnswerEnvelope{}, domain.WrapError(domain.ErrInvalidInput, "faq ask", errors.New("question must not be empty"))
	}
	if query.TopK <= 0 {
		query.TopK = p.limits.DefaultTopK
	}

	r := &run{
		ctx:       ctx,
		query:     query,
		threshold: max(query.Threshold(p.limits.DefaultScoreThreshold), 0),
		start:     p.now(),
		state:     domain.StateNotStarted,
	}
	r.log = p.logger.With(slog.Int("question_len", len([]rune(query.Text))))

	defer func() {
		if rec := recover(); rec != nil {
			r.log.ErrorContext(r.ctx, "faq_pipeline_panic", "state", string(r.state), "panic", fmt.Sprint(rec))
			env = p.failure(r)
			err = nil
		}
		p.observer.ObserveAnswer(env)
		r.log.InfoContext(r.ctx, "faq_pipeline_completed",
			"scope", string(env.Scope),
			"basis", string(env.Basis),
			"confidence", env.Confidence,
			"sources_used", env.SourcesUsed,
			"final_state", string(r.state),
			"duration_ms", time.Since(r.start).Milliseconds(),
		)
	}()

	return p.execute(ctx, r), nil
}

func (p *FAQPipeline) execute(ctx context.Context, r *run) domain.AnswerEnvelope {
	r.lang = p.resolveLanguage(r.query)
	r.log = r.log.With(slog.String("lang", string(r.lang)))
	r.advance(domain.StateLanguageResolved)

	if !p.classifier.IsInDomain(r.query.Text) {
		return p.notRelated(r)
	}

	hits := p.retrieve(ctx, r)
	r.advance(domain.StateRetrieved)

	valid := make([]domain.RetrievedHit, 0, len(hits))
	for _, h := range hits {
		if h.Valid() && h.Score >= r.threshold {
			valid = append(valid, h)
		}
	}
	confidence := ComputeConfidence(hitScores(valid), p.limits.Confidence)
	r.advance(domain.StateScored)

	switch {
	case len(valid) > 0 && confidence >= p.limits.AcceptanceBar:
		r.advance(domain.StateDecided)
		return p.answerFromKnowledge(ctx, r, valid, confidence)
	case len(valid) == 0:
		// In-domain was settled by the gate above.
		r.advance(domain.StateDecided)
		return p.answerFromGeneralKnowledge(ctx, r)
	default:
		r.advance(domain.StateDecided)
		return p.answerFromWeb(ctx, r)
	}
}

func (p *FAQPipeline) resolveLanguage(q domain.Query) domain.Language {
	if q.Language.IsSupported() {
		return q.Language
	}
	lang := p.classifier.Detect(q.Text)
	if !lang.IsSupported() {
		return domain.DefaultLanguage
	}
	return lang
}

func (p *FAQPipeline) retrieve(ctx context.Context, r *run) []domain.RetrievedHit {
	embedCtx, cancel := context.WithTimeout(ctx, p.limits.EmbedTimeout)
	vector, err := p.embedder.EmbedQuery(embedCtx, r.query.Text)
	cancel()
	if err != nil {
		p.stageFailed(r, stageRetrieve, "embed query", err)
		return nil
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, p.limits.RetrieveTimeout)
	defer cancel()
	hits, err := p.retriever.Retrieve(retrieveCtx, domain.RetrievalRequest{
		Text:           r.query.Text,
		Vector:         vector,
		Language:       r.lang,
		Limit:          r.query.TopK,
		ScoreThreshold: r.threshold,
	})
	if err != nil {
		p.stageFailed(r, stageRetrieve, "retrieve", err)
		return nil
	}
	return hits
}

func (p *FAQPipeline) answerFromKnowledge(ctx context.Context, r *run, evidence []domain.RetrievedHit, confidence float64) domain.AnswerEnvelope {
	env := p.envelope(r, domain.ScopeFSORelated, domain.BasisKnowledgeBase, domain.SourceDatabase)
	env.Confidence = confidence
	env.SourcesUsed = len(evidence)
	env.RawResults = evidence

	text, llmUsed, ok := p.synthesizeEvidence(ctx, r, domain.SynthesisFromKnowledge, evidence)
	if !ok {
		env.Confidence = min(confidence, p.limits.PreviewConfidence)
	}
	env.ResponseText = text
	env.LLMUsed = llmUsed
	return p.finish(r, env)
}

func (p *FAQPipeline) answerFromWeb(ctx context.Context, r *run) domain.AnswerEnvelope {
	if p.fallback == nil {
		p.stageFailed(r, stageFallback, "web fallback", errors.New("web fallback is not configured"))
		return p.failure(r)
	}

	ranked, fetched, err := p.fallback.Search(ctx, r.query.Text, r.lang, r.query.TopK)
	if err != nil {
		p.stageFailed(r, stageFallback, "web fallback", err)
		return p.failure(r)
	}
	r.log.InfoContext(r.ctx, "web_fallback_ranked", "fetched", fetched, "kept", len(ranked))

	if len(ranked) == 0 {
		env := p.envelope(r, domain.ScopeNoResults, domain.BasisNone, domain.SourceInternet)
		env.ResponseText = p.messages.NoResults(r.lang)
		return p.finish(r, env)
	}

	evidence := make([]domain.RetrievedHit, len(ranked))
	scores := make([]float64, len(ranked))
	urls := make([]string, 0, len(ranked))
	for i, s := range ranked {
		evidence[i] = s.AsHit(r.query.Text)
		scores[i] = s.CompositeScore
		if s.URL != "" {
			urls = append(urls, s.URL)
		}
	}
	confidence := ComputeConfidence(scores, p.limits.Confidence)

	env := p.envelope(r, domain.ScopeFSORelated, domain.BasisWebFallback, domain.SourceInternet)
	env.Confidence = confidence
	env.SourcesUsed = len(evidence)
	env.RawResults = evidence

	text, llmUsed, ok := p.synthesizeEvidence(ctx, r, domain.SynthesisFromWeb, evidence)
	if !ok {
		env.Confidence = min(confidence, p.limits.PreviewConfidence)
	}
	env.ResponseText = text
	env.LLMUsed = llmUsed

	if ok && llmUsed && p.limits.PersistWebAnswers {
		meta := p.messages.WebMeta(r.lang)
		if len(urls) > 0 {
			meta += ": " + strings.Join(urls, ", ")
		}
		p.persist(ctx, r, domain.NewSingleEntry(r.lang, r.query.Text, text, meta, string(domain.SourceInternet)))
	}
	return p.finish(r, env)
}

func (p *FAQPipeline) answerFromGeneralKnowledge(ctx context.Context, r *run) domain.AnswerEnvelope {
	if !r.query.UseLLM {
		env := p.envelope(r, domain.ScopeNoResults, domain.BasisNone, domain.SourceNone)
		env.ResponseText = p.messages.NoResults(r.lang)
		return p.finish(r, env)
	}

	synthCtx, cancel := context.WithTimeout(ctx, p.limits.SynthesisTimeout)
	result, err := p.synthesizer.Synthesize(synthCtx, domain.SynthesisRequest{
		Question: r.query.Text,
		Language: r.lang,
		Mode:     domain.SynthesisGeneral,
	})
	cancel()
	if err == nil && strings.TrimSpace(result.Text) == "" {
		err = domain.WrapError(domain.ErrSynthesisMalformed, "synthesize general", errors.New("empty answer"))
	}
	if err != nil {
		p.stageFailed(r, stageSynthesize, "synthesize general", err)
		return p.failure(r)
	}
	r.advance(domain.StateSynthesized)

	text := p.enhance(ctx, r, strings.TrimSpace(result.Text))
	p.persist(ctx, r, domain.NewSingleEntry(r.lang, r.query.Text, text, p.messages.GeneratedMeta(r.lang), string(domain.SourceLLM)))

	env := p.envelope(r, domain.ScopeFSORelated, domain.BasisGeneralKnowledge, domain.SourceLLM)
	env.ResponseText = text
	env.Confidence = p.limits.GeneralKnowledgeConfidence
	env.LLMUsed = true
	return p.finish(r, env)
}

// synthesizeEvidence returns the answer text, whether the LLM produced it, and false when
// synthesis failed and the raw-evidence preview was used instead.
func (p *FAQPipeline) synthesizeEvidence(ctx context.Context, r *run, mode domain.SynthesisMode, evidence []domain.RetrievedHit) (string, bool, bool) {
	if !r.query.UseLLM {
		return strings.TrimSpace(evidence[0].Answer), false, true
	}

	synthCtx, cancel := context.WithTimeout(ctx, p.limits.SynthesisTimeout)
	result, err := p.synthesizer.Synthesize(synthCtx, domain.SynthesisRequest{
		Question: r.query.Text,
		Language: r.lang,
		Mode:     mode,
		Evidence: evidence,
	})
	cancel()
	if err == nil && strings.TrimSpace(result.Text) == "" {
		err = domain.WrapError(domain.ErrSynthesisMalformed, "synthesize", errors.New("empty answer"))
	}
	if err != nil {
		p.stageFailed(r, stageSynthesize, "synthesize", err)
		return p.messages.Preview(r.lang, evidence[0].Answer, p.limits.PreviewChars), false, false
	}
	r.advance(domain.StateSynthesized)
	return p.enhance(ctx, r, strings.TrimSpace(result.Text)), true, true
}

// enhance appends context-derived additions and removes repeated paragraphs and sentences.
func (p *FAQPipeline) enhance(ctx context.Context, r *run, answer string) string {
	if len(r.query.ExtraContext) == 0 {
		return answer
	}
	enhanceCtx, cancel := context.WithTimeout(ctx, p.limits.EnhanceTimeout)
	defer cancel()
	addition, err := p.synthesizer.Enhance(enhanceCtx, r.query.Text, answer, r.query.ExtraContext, r.lang)
	if err != nil {
		p.stageFailed(r, stageEnhance, "enhance", err)
		return DedupeText(answer)
	}
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return DedupeText(answer)
	}
	return DedupeText(answer + "\n\n" + addition)
}

func (p *FAQPipeline) persist(ctx context.Context, r *run, entry domain.KnowledgeEntry) {
	if p.writer == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.limits.WriteTimeout)
	defer cancel()
	result, err := p.writer.Write(writeCtx, entry)
	if err != nil {
		p.stageFailed(r, stagePersist, "write knowledge entry", err)
		return
	}
	r.log.InfoContext(r.ctx, "knowledge_entry_written", "added_count", result.AddedCount, "success", result.Success)
}

func (p *FAQPipeline) notRelated(r *run) domain.AnswerEnvelope {
	env := p.envelope(r, domain.ScopeNotRelated, domain.BasisNone, domain.SourceNone)
	env.ResponseText = p.messages.Polite(r.lang)
	return p.finish(r, env)
}

func (p *FAQPipeline) failure(r *run) domain.AnswerEnvelope {
	r.advance(domain.StateErrored)
	lang := r.lang
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	return domain.AnswerEnvelope{
		DetectedLanguage: lang,
		ResponseText:     p.messages.Polite(lang),
		ProcessingTime:   p.elapsed(r),
		Scope:            domain.ScopeError,
		Basis:            domain.BasisNone,
		SearchSource:     domain.SourceNone,
	}
}

func (p *FAQPipeline) envelope(r *run, scope domain.Scope, basis domain.Basis, source domain.SearchSource) domain.AnswerEnvelope {
	return domain.AnswerEnvelope{
		DetectedLanguage: r.lang,
		Scope:            scope,
		Basis:            basis,
		SearchSource:     source,
	}
}

func (p *FAQPipeline) finish(r *run, env domain.AnswerEnvelope) domain.AnswerEnvelope {
	env.ProcessingTime = p.elapsed(r)
	r.advance(domain.StateDone)
	return env
}

func (p *FAQPipeline) elapsed(r *run) float64 {
	return p.now().Sub(r.start).Seconds()
}

func (p *FAQPipeline) stageFailed(r *run, stage, operation string, err error) {
	p.observer.ObserveStageFailure(stage)
	r.log.WarnContext(r.ctx, stage+"_failed", "operation", operation, "state", string(r.state), "error", err)
}
