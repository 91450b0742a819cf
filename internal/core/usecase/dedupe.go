package usecase

import (
	"regexp"
	"strings"
	"unicode"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// DedupeText removes repeated paragraphs, then repeated sentences, comparing
// case-insensitively after whitespace normalization. First occurrences win.
func DedupeText(text string) string {
	seenParagraphs := make(map[string]struct{})
	seenSentences := make(map[string]struct{})
	var kept []string

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		key := normalizeForDedupe(para)
		if key == "" {
			continue
		}
		if _, dup := seenParagraphs[key]; dup {
			continue
		}
		seenParagraphs[key] = struct{}{}

		sentences := splitSentences(para)
		out := make([]string, 0, len(sentences))
		removed := false
		for _, s := range sentences {
			skey := normalizeForDedupe(s)
			if skey == "" {
				continue
			}
			if _, dup := seenSentences[skey]; dup {
				removed = true
				continue
			}
			seenSentences[skey] = struct{}{}
			out = append(out, s)
		}
		switch {
		case len(out) == 0:
			continue
		case removed:
			kept = append(kept, strings.Join(out, " "))
		default:
			kept = append(kept, para)
		}
	}
	return strings.Join(kept, "\n\n")
}

func normalizeForDedupe(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// splitSentences cuts after terminal punctuation that is followed by whitespace.
func splitSentences(para string) []string {
	runes := []rune(para)
	var out []string
	start := 0
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '؟', '…':
		return true
	default:
		return false
	}
}
