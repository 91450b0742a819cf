package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/fso-faq-assistant/internal/config"
	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/language"
	"github.com/kirillkom/fso-faq-assistant/internal/core/locale"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
	"github.com/kirillkom/fso-faq-assistant/internal/core/relevance"
	"github.com/kirillkom/fso-faq-assistant/internal/core/usecase"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/speech/whisper"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/websearch"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/metrics"
)

// Indexing holds the knowledge stores and the indexer. It is enough for the worker and the
// indexer CLI, which never answer questions.
type Indexing struct {
	Config config.Config

	Executor *resilience.Executor
	Repo     *postgres.KnowledgeRepository
	Index    *qdrant.Client
	Ollama   *ollama.Client
	Embedder *ollama.Embedder
	Indexer  *usecase.KnowledgeIndexer

	closeFns []func()
}

func NewIndexing(ctx context.Context, cfg config.Config, opts ...resilience.Option) (*Indexing, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewKnowledgeRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg), opts...)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel,
		ollama.WithExecutor(executor),
		ollama.WithGenerationOptions(ollama.GenerationOptions{
			Temperature:   cfg.OllamaTemperature,
			TopP:          cfg.OllamaTopP,
			RepeatPenalty: cfg.OllamaRepeatPenalty,
			NumPredict:    cfg.OllamaNumPredict,
		}),
	)
	embedder := ollama.NewEmbedder(ollamaClient)
	index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.WithExecutor(executor))
	indexer := usecase.NewKnowledgeIndexer(embedder, index, repo, usecase.IndexLimits{
		BatchSize:   cfg.IndexBatchSize,
		Concurrency: cfg.IndexConcurrency,
	})

	return &Indexing{
		Config:   cfg,
		Executor: executor,
		Repo:     repo,
		Index:    index,
		Ollama:   ollamaClient,
		Embedder: embedder,
		Indexer:  indexer,
		closeFns: []func(){func() { _ = db.Close() }},
	}, nil
}

func (ix *Indexing) Close() {
	for i := len(ix.closeFns) - 1; i >= 0; i-- {
		ix.closeFns[i]()
	}
}

// App wires the full question-answering service on top of Indexing.
type App struct {
	*Indexing

	Metrics *metrics.HTTPServerMetrics
	Queue   *nats.Queue

	FAQ             *usecase.FAQPipeline
	Audio           *usecase.AudioFAQUseCase
	KnowledgeWriter ports.KnowledgeWriter
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	httpMetrics := metrics.NewHTTPServerMetrics(service)
	ix, err := NewIndexing(ctx, cfg, resilience.WithStateListener(httpMetrics.BreakerListener(service)))
	if err != nil {
		return nil, err
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: ix.Executor})
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	ix.closeFns = append(ix.closeFns, queue.Close)

	table, err := language.LoadTable(cfg.KeywordsFile)
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("load language table: %w", err)
	}
	messages, err := locale.Load(cfg.MessagesFile)
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}
	prompts, err := ollama.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	classifier := language.NewClassifier(table, language.NewLinguaDetector())

	var fallback *usecase.WebFallback
	if cfg.WebSearchEnabled {
		source, err := websearch.New(websearch.Config{
			BaseURL:           cfg.WebSearchBaseURL,
			Sites:             cfg.WebSearchSites,
			AllowedDomains:    cfg.WebSearchAllowedDomains,
			BroaderSuffix:     cfg.WebSearchBroaderSuffix,
			UserAgent:         cfg.WebSearchUserAgent,
			RequestsPerSecond: cfg.WebSearchRPS,
		}, websearch.WithExecutor(ix.Executor))
		if err != nil {
			ix.Close()
			return nil, fmt.Errorf("init web search: %w", err)
		}
		fallback = usecase.NewWebFallback(source, relevance.NewScorer(), usecase.WebFallbackLimits{
			Workers: cfg.WebSearchWorkers,
			Budget:  cfg.WebSearchBudget,
		})
	}

	var writer ports.KnowledgeWriter = ix.Indexer
	if cfg.PipelineAsyncKnowledgeWrite {
		writer = usecase.NewQueuedKnowledgeWriter(queue)
	}

	pipeline := usecase.NewFAQPipeline(
		classifier,
		ix.Embedder,
		ix.Index,
		fallback,
		ollama.NewSynthesizer(ix.Ollama, prompts),
		writer,
		messages,
		pipelineLimits(cfg),
		usecase.WithObserver(httpMetrics.PipelineObserver(service)),
		usecase.WithLogger(slog.Default().With("component", "faq_pipeline")),
	)

	transcriber := whisper.New(cfg.WhisperURL, cfg.WhisperModel, whisper.WithExecutor(ix.Executor))
	audio := usecase.NewAudioFAQUseCase(transcriber, pipeline, cfg.AudioTimeout)

	return &App{
		Indexing:        ix,
		Metrics:         httpMetrics,
		Queue:           queue,
		FAQ:             pipeline,
		Audio:           audio,
		KnowledgeWriter: writer,
	}, nil
}

func pipelineLimits(cfg config.Config) domain.PipelineLimits {
	return domain.PipelineLimits{
		DefaultTopK:                cfg.PipelineTopK,
		DefaultScoreThreshold:      cfg.PipelineScoreThreshold,
		AcceptanceBar:              cfg.PipelineAcceptanceBar,
		GeneralKnowledgeConfidence: cfg.PipelineGeneralConfidence,
		PreviewConfidence:          cfg.PipelinePreviewConfidence,
		EmbedTimeout:               cfg.PipelineEmbedTimeout,
		RetrieveTimeout:            cfg.PipelineRetrieveTimeout,
		SynthesisTimeout:           cfg.PipelineSynthesisTimeout,
		EnhanceTimeout:             cfg.PipelineEnhanceTimeout,
		WriteTimeout:               cfg.PipelineWriteTimeout,
		PersistWebAnswers:          cfg.PipelinePersistWebAnswers,
		Confidence: domain.ConfidencePolicy{
			PerSourceBonus: cfg.PipelinePerSourceBonus,
			SourceBonusCap: cfg.PipelineSourceBonusCap,
			HighScoreBonus: cfg.PipelineHighScoreBonus,
			HighScoreBar:   cfg.PipelineHighScoreBar,
		},
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.Retry.MaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.Retry.InitialBackoff = cfg.ResilienceRetryInitialBackoff
	rc.Retry.MaxBackoff = cfg.ResilienceRetryMaxBackoff
	rc.AttemptTimeout = cfg.ResilienceAttemptTimeout
	rc.Breaker.Enabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		rc.Breaker.MinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	rc.Breaker.FailureRatio = cfg.ResilienceBreakerFailureRatio
	rc.Breaker.OpenTimeout = cfg.ResilienceBreakerOpenTimeout
	rc.Attempts = map[string]int{"websearch.fetch": cfg.WebSearchMaxAttempts}
	return rc
}
