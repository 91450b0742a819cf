package domain

import (
	"sort"
	"strings"
	"time"
)

// Query is one inbound question. Language may be empty; it is always resolved before retrieval.
// A nil ScoreThreshold means the configured default; zero keeps every hit.
type Query struct {
	Text           string         `json:"question"`
	Language       Language       `json:"lang,omitempty"`
	TopK           int            `json:"k"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	UseLLM         bool           `json:"use_llm"`
	ExtraContext   map[string]any `json:"context,omitempty"`
}

// Threshold returns the requested score threshold, or fallback when none was given.
func (q Query) Threshold(fallback float64) float64 {
	if q.ScoreThreshold == nil {
		return fallback
	}
	return *q.ScoreThreshold
}

type Basis string

const (
	BasisKnowledgeBase    Basis = "knowledge_base"
	BasisWebFallback      Basis = "web_fallback"
	BasisGeneralKnowledge Basis = "general_knowledge"
	BasisNone             Basis = "none"
)

type Scope string

const (
	ScopeFSORelated Scope = "fso_related"
	ScopeNoResults  Scope = "no_results"
	ScopeError      Scope = "error"
	ScopeNotRelated Scope = "not_related"
)

type SearchSource string

const (
	SourceDatabase SearchSource = "database"
	SourceInternet SearchSource = "internet"
	SourceLLM      SearchSource = "llm"
	SourceNone     SearchSource = "none"
)

type PipelineState string

const (
	StateNotStarted       PipelineState = "not_started"
	StateLanguageResolved PipelineState = "language_resolved"
	StateRetrieved        PipelineState = "retrieved"
	StateScored           PipelineState = "scored"
	StateDecided          PipelineState = "decided"
	StateSynthesized      PipelineState = "synthesized"
	StateDone             PipelineState = "done"
	StateErrored          PipelineState = "errored"
)

// ConfidenceResult is computed once per query and never mutated.
type ConfidenceResult struct {
	Value       float64 `json:"value"`
	SourcesUsed int     `json:"sources_used"`
	Basis       Basis   `json:"basis"`
}

// AnswerEnvelope is the caller-facing result of one pipeline run.
type AnswerEnvelope struct {
	DetectedLanguage Language       `json:"detected_lang"`
	ResponseText     string         `json:"structured_response"`
	Confidence       float64        `json:"confidence"`
	SourcesUsed      int            `json:"sources_used"`
	ProcessingTime   float64        `json:"processing_time"`
	LLMUsed          bool           `json:"llm_used"`
	Scope            Scope          `json:"scope"`
	Basis            Basis          `json:"basis"`
	SearchSource     SearchSource   `json:"search_source"`
	RawResults       []RetrievedHit `json:"raw_results,omitempty"`
}

// KnowledgeEntry is the multilingual write-path unit: language -> strings.
type KnowledgeEntry struct {
	Question map[Language][]string `json:"question"`
	Answer   map[Language][]string `json:"answer"`
	Metadata map[Language][]string `json:"meta,omitempty"`
	Source   string                `json:"source,omitempty"`
}

// KnowledgeRecord is a single indexed question/answer pair in one language.
type KnowledgeRecord struct {
	ID        string    `json:"id"`
	Language  Language  `json:"lang"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Meta      string    `json:"meta,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type WriteResult struct {
	Success    bool `json:"success"`
	AddedCount int  `json:"added_count"`
}

// Records flattens the entry: one record per question string, paired with the first
// answer of the same language. Languages without an answer are skipped.
func (e KnowledgeEntry) Records() []KnowledgeRecord {
	langs := make([]string, 0, len(e.Question))
	for lang := range e.Question {
		langs = append(langs, string(lang))
	}
	sort.Strings(langs)

	out := make([]KnowledgeRecord, 0, len(e.Question))
	for _, code := range langs {
		lang := Language(code)
		answers := e.Answer[lang]
		if len(answers) == 0 || strings.TrimSpace(answers[0]) == "" {
			continue
		}
		meta := ""
		if metas := e.Metadata[lang]; len(metas) > 0 {
			meta = strings.TrimSpace(metas[0])
		}
		for _, question := range e.Question[lang] {
			question = strings.TrimSpace(question)
			if question == "" {
				continue
			}
			out = append(out, KnowledgeRecord{
				Language: lang,
				Question: question,
				Answer:   strings.TrimSpace(answers[0]),
				Meta:     meta,
				Source:   e.Source,
			})
		}
	}
	return out
}

// NewSingleEntry builds an entry holding one question/answer pair in one language.
func NewSingleEntry(lang Language, question, answer, meta, source string) KnowledgeEntry {
	entry := KnowledgeEntry{
		Question: map[Language][]string{lang: {question}},
		Answer:   map[Language][]string{lang: {answer}},
		Source:   source,
	}
	if meta != "" {
		entry.Metadata = map[Language][]string{lang: {meta}}
	}
	return entry
}

type SynthesisMode string

const (
	SynthesisFromKnowledge SynthesisMode = "knowledge_base"
	SynthesisFromWeb       SynthesisMode = "web"
	SynthesisGeneral       SynthesisMode = "general_knowledge"
)

type SynthesisRequest struct {
	Question string
	Language Language
	Mode     SynthesisMode
	Evidence []RetrievedHit
}

type SynthesisResult struct {
	Text           string
	ConfidenceHint float64
}

type Transcription struct {
	Text     string   `json:"text"`
	Language Language `json:"language"`
}
