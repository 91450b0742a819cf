package language

import (
	"strings"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// StatisticalDetector identifies the language of longer inputs.
// ok is false when no language could be determined.
type StatisticalDetector interface {
	DetectLanguageOf(text string) (lang domain.Language, ok bool)
}

// Classifier resolves the language of a question and whether it concerns the faculty.
// It holds only read-only state and is safe for concurrent use.
type Classifier struct {
	table       *Table
	statistical StatisticalDetector
}

func NewClassifier(table *Table, statistical StatisticalDetector) *Classifier {
	return &Classifier{table: table, statistical: statistical}
}

// Detect never fails: every path ends in a supported language.
func (c *Classifier) Detect(text string) domain.Language {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.DefaultLanguage
	}

	words := significantWords(Fold(text))
	if len(words) <= 2 {
		if lang, ok := c.lookupShortWords(words); ok {
			return lang
		}
		if lang, ok := scriptLanguage(text); ok {
			return lang
		}
		return domain.DefaultLanguage
	}

	if lang, ok := c.detectStatistical(text); ok {
		return lang
	}
	if lang, ok := scriptLanguage(text); ok {
		return lang
	}
	if lang, ok := c.lookupShortWords(words); ok {
		return lang
	}
	return domain.DefaultLanguage
}

func (c *Classifier) detectStatistical(text string) (lang domain.Language, ok bool) {
	if c.statistical == nil {
		return domain.LangUnknown, false
	}
	defer func() {
		if recover() != nil {
			lang, ok = domain.LangUnknown, false
		}
	}()
	lang, ok = c.statistical.DetectLanguageOf(text)
	if !ok || !lang.IsSupported() {
		return domain.LangUnknown, false
	}
	return lang, true
}

// lookupShortWords votes with the function-word table; ties go to the earlier supported language.
func (c *Classifier) lookupShortWords(words []string) (domain.Language, bool) {
	votes := make(map[domain.Language]int, len(domain.SupportedLanguages))
	for _, w := range words {
		for _, lang := range c.table.shortWords[w] {
			votes[lang]++
		}
	}
	best, bestVotes := domain.LangUnknown, 0
	for _, lang := range domain.SupportedLanguages {
		if votes[lang] > bestVotes {
			best, bestVotes = lang, votes[lang]
		}
	}
	return best, bestVotes > 0
}
