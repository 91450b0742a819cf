package language

import (
	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/pemistahl/lingua-go"
)

// Candidate languages include a few unsupported neighbours so that text in them is
// reported as unsupported instead of being forced into French or English.
var linguaCandidates = []lingua.Language{
	lingua.French,
	lingua.English,
	lingua.Arabic,
	lingua.Spanish,
	lingua.German,
	lingua.Italian,
	lingua.Portuguese,
}

type LinguaDetector struct {
	detector lingua.LanguageDetector
}

func NewLinguaDetector() *LinguaDetector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(linguaCandidates...).
		WithMinimumRelativeDistance(0.1).
		Build()
	return &LinguaDetector{detector: detector}
}

func (d *LinguaDetector) DetectLanguageOf(text string) (domain.Language, bool) {
	detected, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return domain.LangUnknown, false
	}
	switch detected {
	case lingua.French:
		return domain.LangFrench, true
	case lingua.English:
		return domain.LangEnglish, true
	case lingua.Arabic:
		return domain.LangArabic, true
	default:
		return domain.LangUnknown, false
	}
}
