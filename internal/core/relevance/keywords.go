package relevance

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		le la les un une des du de et ou mais donc car ni or ce ces cette cet se sa son ses
		leur leurs que qui quoi dont où par pour avec sans sous sur dans vers chez entre depuis
		pendant avant après très plus moins bien mal tout tous toute toutes même autre
		the and for are but not you all any can had her was one our out has have this that
		with from they will what when where which who how its into than then them these those`) {
		stopWords[w] = struct{}{}
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

func wordTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !isWordRune(r) })
}

// Keywords returns the lowercased words longer than two characters that are not stop words,
// in order of appearance.
func Keywords(text string) []string {
	words := wordTokens(text)
	out := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func keywordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
