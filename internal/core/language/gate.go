package language

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// minFuzzyRunes is the keyword length below which only exact matches count.
const minFuzzyRunes = 4

// GateResult explains an IsInDomain decision.
type GateResult struct {
	Score         float64
	Threshold     float64
	StrongPattern bool
	InDomain      bool
}

// IsInDomain reports whether the question concerns the faculty.
func (c *Classifier) IsInDomain(text string) bool {
	return c.Evaluate(text).InDomain
}

// Evaluate scores text against the keyword tiers, the question pattern bank,
// the question-syntax bonus and the greeting penalty.
func (c *Classifier) Evaluate(text string) GateResult {
	t := c.table
	folded := Fold(strings.TrimSpace(text))
	words := Words(folded)
	if len(words) == 0 {
		return GateResult{Threshold: t.threshold.Short}
	}
	joined := " " + strings.Join(words, " ") + " "

	var res GateResult
	for _, kw := range t.keywords {
		if kw.words > 1 {
			if strings.Contains(joined, " "+kw.text+" ") {
				res.Score += kw.weight
			}
			continue
		}
		for _, w := range words {
			if matchKeyword(w, kw.text, t.fuzzyThreshold) {
				res.Score += kw.weight
				break
			}
		}
	}

	for _, p := range t.patterns {
		if p.re.MatchString(folded) {
			res.Score += p.weight
			if p.strong {
				res.StrongPattern = true
			}
		}
	}

	if isQuestion(text, words, t.questionWords) {
		res.Score += t.questionBonus
	}
	for _, g := range t.greetings {
		if strings.Contains(joined, " "+g+" ") {
			res.Score -= t.greetingPenalty
			break
		}
	}

	switch n := len(words); {
	case n <= t.threshold.ShortWords:
		res.Threshold = t.threshold.Short
	case n >= t.threshold.LongWords:
		res.Threshold = t.threshold.Long
	default:
		res.Threshold = t.threshold.Normal
	}

	res.InDomain = res.Score >= res.Threshold ||
		(res.StrongPattern && res.Score >= t.threshold.OverrideFloor)
	return res
}

func matchKeyword(word, kw string, threshold float64) bool {
	if word == kw {
		return true
	}
	if utf8.RuneCountInString(kw) < minFuzzyRunes || utf8.RuneCountInString(word) < minFuzzyRunes {
		return false
	}
	return Similarity(word, kw) >= threshold
}

// Similarity is 1 - editDistance/maxLen over runes, in [0,1].
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func isQuestion(raw string, words []string, questionWords map[string]struct{}) bool {
	if strings.ContainsAny(raw, "?؟") {
		return true
	}
	_, ok := questionWords[words[0]]
	return ok
}
