package domain

import "strings"

type Language string

const (
	LangFrench  Language = "fr"
	LangEnglish Language = "en"
	LangArabic  Language = "ar"
	LangAmazigh Language = "amz"
	LangUnknown Language = "unknown"
)

const DefaultLanguage = LangFrench

// SupportedLanguages lists the languages the knowledge base is indexed in.
var SupportedLanguages = []Language{LangFrench, LangEnglish, LangArabic, LangAmazigh}

func (l Language) IsSupported() bool {
	switch l {
	case LangFrench, LangEnglish, LangArabic, LangAmazigh:
		return true
	default:
		return false
	}
}

func (l Language) String() string {
	return string(l)
}

// ParseLanguage maps a caller-supplied code to a Language. Unknown codes map to LangUnknown.
func ParseLanguage(code string) Language {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "fr", "fra", "fre", "french":
		return LangFrench
	case "en", "eng", "english":
		return LangEnglish
	case "ar", "ara", "arb", "arabic":
		return LangArabic
	case "amz", "ber", "tzm", "zgh", "kab", "shi":
		return LangAmazigh
	default:
		return LangUnknown
	}
}
