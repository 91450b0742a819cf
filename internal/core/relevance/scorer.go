package relevance

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

const (
	ComponentTFIDF          = "tfidf"
	ComponentKeywordMatch   = "keyword_match"
	ComponentKeywordDensity = "keyword_density"
	ComponentProximity      = "proximity"
	ComponentLength         = "length"
)

const (
	// OptimalSnippetLength is the snippet length, in characters, that earns a full length score.
	OptimalSnippetLength = 150
	// MinSnippetLength drops snippets of this many characters or fewer before scoring.
	MinSnippetLength = 30
	DefaultMinScore  = 0.01
)

// Weights are the fixed composite weights; they sum to 1.
var Weights = map[string]float64{
	ComponentTFIDF:          0.35,
	ComponentKeywordMatch:   0.25,
	ComponentKeywordDensity: 0.15,
	ComponentProximity:      0.15,
	ComponentLength:         0.10,
}

var componentOrder = []string{
	ComponentTFIDF,
	ComponentKeywordMatch,
	ComponentKeywordDensity,
	ComponentProximity,
	ComponentLength,
}

// Scorer ranks web snippets against a question. It is stateless.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the composite relevance of one snippet's text to the query.
func (s *Scorer) Score(snippet domain.RawSnippet, query string) domain.ScoredSnippet {
	text := snippet.Snippet
	components := make(map[string]float64, len(componentOrder))

	// An empty vocabulary leaves the tfidf component at 0.
	components[ComponentTFIDF], _ = tfidfCosine(query, text)

	queryKeywords := Keywords(query)
	querySet := keywordSet(queryKeywords)
	snippetKeywords := Keywords(text)
	snippetSet := keywordSet(snippetKeywords)

	if len(querySet) > 0 {
		shared := 0
		for w := range querySet {
			if _, ok := snippetSet[w]; ok {
				shared++
			}
		}
		components[ComponentKeywordMatch] = float64(shared) / float64(len(querySet))
	} else {
		components[ComponentKeywordMatch] = 0
	}

	if len(snippetKeywords) > 0 {
		hits := 0
		for _, w := range snippetKeywords {
			if _, ok := querySet[w]; ok {
				hits++
			}
		}
		components[ComponentKeywordDensity] = float64(hits) / float64(len(snippetKeywords))
	} else {
		components[ComponentKeywordDensity] = 0
	}

	components[ComponentProximity] = proximity(strings.ToLower(text), queryKeywords)
	components[ComponentLength] = lengthFit(text)

	var composite float64
	for _, name := range componentOrder {
		components[name] = clamp01(components[name])
		composite += Weights[name] * components[name]
	}

	return domain.ScoredSnippet{
		RawSnippet:      text,
		Title:           snippet.Title,
		URL:             snippet.URL,
		CompositeScore:  clamp01(composite),
		ComponentScores: components,
	}
}

// Rank cleans, scores, filters and truncates snippets. The sort is stable, so equal
// scores keep discovery order.
func (s *Scorer) Rank(query string, snippets []domain.RawSnippet, minScore float64, topK int) []domain.ScoredSnippet {
	scored := make([]domain.ScoredSnippet, 0, len(snippets))
	for _, snippet := range snippets {
		snippet.Snippet = strings.TrimSpace(snippet.Snippet)
		if utf8.RuneCountInString(snippet.Snippet) <= MinSnippetLength {
			continue
		}
		result := s.Score(snippet, query)
		if result.CompositeScore < minScore {
			continue
		}
		scored = append(scored, result)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CompositeScore > scored[j].CompositeScore
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// proximity is 1/(1+span/100) where span is the character distance between the first
// occurrences of the query keywords found in text; 0 when fewer than two are found.
func proximity(lowerText string, queryKeywords []string) float64 {
	if len(queryKeywords) < 2 {
		return 0
	}
	seen := make(map[string]struct{}, len(queryKeywords))
	first, last, found := math.MaxInt, -1, 0
	for _, w := range queryKeywords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		idx := strings.Index(lowerText, w)
		if idx < 0 {
			continue
		}
		pos := utf8.RuneCountInString(lowerText[:idx])
		found++
		first = min(first, pos)
		last = max(last, pos)
	}
	if found < 2 {
		return 0
	}
	return 1 / (1 + float64(last-first)/100)
}

func lengthFit(text string) float64 {
	n := utf8.RuneCountInString(text)
	penalty := math.Abs(float64(n-OptimalSnippetLength)) / OptimalSnippetLength
	return math.Max(0, 1-penalty)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
