package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

// GenerationOptions are passed through to Ollama's "options" field.
type GenerationOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	NumPredict    int     `json:"num_predict"`
}

func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Temperature:   0.1,
		TopP:          0.9,
		RepeatPenalty: 1.2,
		NumPredict:    1200,
	}
}

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	options    GenerationOptions
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func WithGenerationOptions(options GenerationOptions) Option {
	return func(c *Client) {
		c.options = options
	}
}

func New(baseURL, genModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		options:    DefaultGenerationOptions(),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d vectors, got %d", len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Synthesizer turns evidence into a localized answer with the generation model.
type Synthesizer struct {
	client  *Client
	prompts *Prompts
}

func NewSynthesizer(client *Client, prompts *Prompts) *Synthesizer {
	return &Synthesizer{client: client, prompts: prompts}
}

func (s *Synthesizer) Synthesize(ctx context.Context, req domain.SynthesisRequest) (domain.SynthesisResult, error) {
	system, user, err := s.prompts.Synthesis(req)
	if err != nil {
		return domain.SynthesisResult{}, err
	}
	text, err := s.client.generate(ctx, system, user)
	if err != nil {
		return domain.SynthesisResult{}, err
	}
	if text == "" {
		return domain.SynthesisResult{}, domain.WrapError(domain.ErrSynthesisMalformed, "ollama generate", fmt.Errorf("empty response"))
	}
	return domain.SynthesisResult{Text: text, ConfidenceHint: topScore(req.Evidence)}, nil
}

// Enhance returns only the text to append to answer; an empty string means nothing to add.
func (s *Synthesizer) Enhance(ctx context.Context, question, answer string, extra map[string]any, lang domain.Language) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	system, user, err := s.prompts.Enhancement(lang, answer, withQuestion(extra, question))
	if err != nil {
		return "", err
	}
	text, err := s.client.generate(ctx, system, user)
	if err != nil {
		return "", err
	}
	if s.prompts.NothingToAdd(lang, text) {
		return "", nil
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":   c.genModel,
		"prompt":  prompt,
		"stream":  false,
		"options": c.options,
	}
	if system != "" {
		reqBody["system"] = system
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func withQuestion(extra map[string]any, question string) map[string]any {
	if _, ok := extra["question"]; ok || question == "" {
		return extra
	}
	out := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["question"] = question
	return out
}

func topScore(hits []domain.RetrievedHit) float64 {
	best := 0.0
	for _, hit := range hits {
		if hit.Score > best {
			best = hit.Score
		}
	}
	return best
}
