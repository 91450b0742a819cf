package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/fso-faq-assistant/internal/config"
	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/metrics"
)

const (
	serviceName      = "api"
	maxJSONBodyBytes = 1 << 20
)

type Router struct {
	cfg       config.Config
	faq       ports.FAQService
	audio     ports.AudioFAQService
	knowledge ports.KnowledgeWriter
	metrics   *metrics.HTTPServerMetrics
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	faq ports.FAQService,
	audio ports.AudioFAQService,
	knowledge ports.KnowledgeWriter,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:       cfg,
		faq:       faq,
		audio:     audio,
		knowledge: knowledge,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handler assembles the middleware chain. It panics if the embedded OpenAPI document is invalid.
func (rt *Router) Handler() http.Handler {
	validator, err := newRequestValidator(openAPISpec)
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/openapi.yaml", rt.openAPIDocument)
	mux.HandleFunc("/v1/faq/search", rt.searchFAQ)
	mux.HandleFunc("/v1/faq/audio", rt.searchFAQAudio)
	mux.HandleFunc("/v1/knowledge", rt.writeKnowledge)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var onReject rejectionRecorder
	if rt.metrics != nil {
		onReject = func(reason string) { rt.metrics.RecordRejected(serviceName, reason) }
	}

	var handler http.Handler = mux
	handler = validator.middleware(handler)
	handler = recoverMiddleware(handler)
	handler = backpressureWithRecorder(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpec)
}

type searchRequest struct {
	Question       string         `json:"question"`
	Lang           string         `json:"lang"`
	K              int            `json:"k"`
	ScoreThreshold *float64       `json:"score_threshold"`
	UseLLM         *bool          `json:"use_llm"`
	IncludeRaw     bool           `json:"include_raw"`
	Context        map[string]any `json:"context"`
}

func (req searchRequest) query() domain.Query {
	useLLM := true
	if req.UseLLM != nil {
		useLLM = *req.UseLLM
	}
	return domain.Query{
		Text:           req.Question,
		Language:       requestedLanguage(req.Lang),
		TopK:           req.K,
		ScoreThreshold: req.ScoreThreshold,
		UseLLM:         useLLM,
		ExtraContext:   req.Context,
	}
}

func (rt *Router) searchFAQ(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	env, err := rt.faq.Ask(r.Context(), req.query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentEnvelope(env, req.IncludeRaw))
}

func (rt *Router) searchFAQAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.audio == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "audio questions are not enabled"})
		return
	}

	if rt.cfg.APIMaxAudioBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxAudioBytes)
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "audio file is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	query, err := audioQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	env, err := rt.audio.AskAudio(r.Context(), fileHeader.Filename, file, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentEnvelope(env, r.FormValue("include_raw") == "true"))
}

func audioQuery(r *http.Request) (domain.Query, error) {
	query := domain.Query{
		Language: requestedLanguage(r.FormValue("lang")),
		UseLLM:   true,
	}
	if raw := r.FormValue("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 1 {
			return domain.Query{}, fmt.Errorf("k must be a positive integer")
		}
		query.TopK = k
	}
	if raw := r.FormValue("score_threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold < 0 {
			return domain.Query{}, fmt.Errorf("score_threshold must be a non-negative number")
		}
		query.ScoreThreshold = &threshold
	}
	if raw := r.FormValue("use_llm"); raw != "" {
		useLLM, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.Query{}, fmt.Errorf("use_llm must be a boolean")
		}
		query.UseLLM = useLLM
	}
	return query, nil
}

func (rt *Router) writeKnowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.knowledge == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "knowledge writes are not enabled"})
		return
	}

	var entry domain.KnowledgeEntry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.knowledge.Write(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if rt.cfg.PipelineAsyncKnowledgeWrite && result.Success {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// requestedLanguage keeps an explicit code even when unsupported so the pipeline can detect instead.
func requestedLanguage(code string) domain.Language {
	if strings.TrimSpace(code) == "" {
		return ""
	}
	return domain.ParseLanguage(code)
}

func presentEnvelope(env domain.AnswerEnvelope, includeRaw bool) domain.AnswerEnvelope {
	if !includeRaw {
		env.RawResults = nil
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
