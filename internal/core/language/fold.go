package language

import (
	"strings"
	"unicode"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases text and strips combining marks (accents, Arabic harakat).
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.ToLower(folded)
}

// Words splits text into tokens of letters and digits.
func Words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func significantWords(text string) []string {
	out := make([]string, 0, 8)
	for _, w := range Words(text) {
		for _, r := range w {
			if unicode.IsLetter(r) {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// scriptLanguage reports the language implied by the dominant non-Latin script, if any.
func scriptLanguage(text string) (domain.Language, bool) {
	arabic, tifinagh := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Tifinagh, r):
			tifinagh++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		}
	}
	switch {
	case tifinagh > 0 && tifinagh >= arabic:
		return domain.LangAmazigh, true
	case arabic > 0:
		return domain.LangArabic, true
	default:
		return domain.LangUnknown, false
	}
}
