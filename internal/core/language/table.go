package language

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// DefaultFuzzyThreshold is the minimum edit-distance similarity for a keyword hit.
const DefaultFuzzyThreshold = 0.82

const (
	TierHigh    = "high"
	TierMedium  = "medium"
	TierContext = "context"
)

//go:embed keywords.yaml
var defaultTableYAML []byte

type patternSpec struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
	Strong  bool    `yaml:"strong"`
}

type thresholdSpec struct {
	ShortWords    int     `yaml:"short_words"`
	Short         float64 `yaml:"short"`
	Normal        float64 `yaml:"normal"`
	LongWords     int     `yaml:"long_words"`
	Long          float64 `yaml:"long"`
	OverrideFloor float64 `yaml:"override_floor"`
}

type tableFile struct {
	FuzzyThreshold  float64                                 `yaml:"fuzzy_threshold"`
	TierWeights     map[string]float64                      `yaml:"tier_weights"`
	ShortWords      map[domain.Language][]string            `yaml:"short_words"`
	Keywords        map[domain.Language]map[string][]string `yaml:"keywords"`
	Patterns        []patternSpec                           `yaml:"patterns"`
	QuestionWords   []string                                `yaml:"question_words"`
	QuestionBonus   float64                                 `yaml:"question_bonus"`
	Greetings       []string                                `yaml:"greetings"`
	GreetingPenalty float64                                 `yaml:"greeting_penalty"`
	Threshold       thresholdSpec                           `yaml:"threshold"`
}

type keyword struct {
	text   string
	words  int
	weight float64
}

type pattern struct {
	re     *regexp.Regexp
	weight float64
	strong bool
}

// Table is the compiled, read-only form of the keyword file. Safe for concurrent use.
type Table struct {
	fuzzyThreshold  float64
	shortWords      map[string][]domain.Language
	keywords        []keyword
	patterns        []pattern
	questionWords   map[string]struct{}
	questionBonus   float64
	greetings       []string
	greetingPenalty float64
	threshold       thresholdSpec
}

// DefaultTable returns the table shipped with the binary.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTableYAML)
}

// LoadTable reads an override table from disk; an empty path selects the default table.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}
	return ParseTable(data)
}

func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keyword table: %w", err)
	}

	t := &Table{
		fuzzyThreshold:  file.FuzzyThreshold,
		shortWords:      make(map[string][]domain.Language),
		questionWords:   make(map[string]struct{}, len(file.QuestionWords)),
		questionBonus:   file.QuestionBonus,
		greetingPenalty: file.GreetingPenalty,
		threshold:       file.Threshold,
	}
	if t.fuzzyThreshold <= 0 || t.fuzzyThreshold > 1 {
		t.fuzzyThreshold = DefaultFuzzyThreshold
	}

	for _, lang := range domain.SupportedLanguages {
		for _, w := range file.ShortWords[lang] {
			w = Fold(strings.TrimSpace(w))
			if w != "" {
				t.shortWords[w] = append(t.shortWords[w], lang)
			}
		}
	}

	seen := make(map[string]struct{})
	for _, lang := range domain.SupportedLanguages {
		for _, tier := range []string{TierHigh, TierMedium, TierContext} {
			weight, ok := file.TierWeights[tier]
			if !ok {
				return nil, fmt.Errorf("parse keyword table: missing weight for tier %q", tier)
			}
			for _, kw := range file.Keywords[lang][tier] {
				folded := strings.Join(Words(Fold(kw)), " ")
				if folded == "" {
					continue
				}
				if _, dup := seen[folded]; dup {
					continue
				}
				seen[folded] = struct{}{}
				t.keywords = append(t.keywords, keyword{
					text:   folded,
					words:  len(strings.Fields(folded)),
					weight: weight,
				})
			}
		}
	}

	for _, entry := range file.Patterns {
		re, err := regexp.Compile("(?i)" + entry.Pattern)
		if err != nil {
			return nil, fmt.Errorf("parse keyword table: pattern %q: %w", entry.Pattern, err)
		}
		t.patterns = append(t.patterns, pattern{re: re, weight: entry.Weight, strong: entry.Strong})
	}

	for _, w := range file.QuestionWords {
		t.questionWords[Fold(strings.TrimSpace(w))] = struct{}{}
	}
	for _, g := range file.Greetings {
		if g = strings.Join(Words(Fold(g)), " "); g != "" {
			t.greetings = append(t.greetings, g)
		}
	}
	return t, nil
}

func (t *Table) FuzzyThreshold() float64 {
	return t.fuzzyThreshold
}
