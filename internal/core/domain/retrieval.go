package domain

import "strings"

type HitOrigin string

const (
	OriginKnowledgeBase HitOrigin = "knowledge_base"
	OriginWeb           HitOrigin = "web"
)

// RetrievedHit is a candidate question/answer pair. Score is the retriever's native,
// unnormalized score.
type RetrievedHit struct {
	ID       string    `json:"id,omitempty"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Score    float64   `json:"score"`
	Meta     any       `json:"meta,omitempty"`
	Origin   HitOrigin `json:"origin"`
}

func (h RetrievedHit) Valid() bool {
	return strings.TrimSpace(h.Answer) != ""
}

type RetrievalRequest struct {
	Text           string
	Vector         []float32
	Language       Language
	Limit          int
	ScoreThreshold float64
}

// RawSnippet is an unranked web search result.
type RawSnippet struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// ScoredSnippet is a web snippet ranked against the user question.
type ScoredSnippet struct {
	RawSnippet      string             `json:"snippet"`
	Title           string             `json:"title"`
	URL             string             `json:"url"`
	CompositeScore  float64            `json:"composite_score"`
	ComponentScores map[string]float64 `json:"component_scores"`
}

// AsHit converts a ranked snippet into evidence for synthesis.
func (s ScoredSnippet) AsHit(question string) RetrievedHit {
	return RetrievedHit{
		Question: question,
		Answer:   s.Title + "\n" + s.RawSnippet,
		Score:    s.CompositeScore,
		Meta: map[string]any{
			"url":              s.URL,
			"component_scores": s.ComponentScores,
		},
		Origin: OriginWeb,
	}
}
