// Package locale holds the localized, user-facing message tables.
package locale

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultMessagesYAML []byte

type Bundle struct {
	Polite        []string `yaml:"polite"`
	NoResults     string   `yaml:"no_results"`
	PreviewPrefix string   `yaml:"preview_prefix"`
	GeneratedMeta string   `yaml:"generated_meta"`
	WebMeta       string   `yaml:"web_meta"`
}

// Messages is immutable after construction. Unknown languages resolve to French.
type Messages struct {
	bundles map[domain.Language]Bundle

	mu   sync.Mutex
	rand *rand.Rand
}

// Default returns the message table shipped with the binary.
func Default() (*Messages, error) {
	return Parse(defaultMessagesYAML)
}

// Load reads an override table; an empty path selects the default table.
func Load(path string) (*Messages, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Messages, error) {
	bundles := make(map[domain.Language]Bundle)
	if err := yaml.Unmarshal(data, &bundles); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	fallback, ok := bundles[domain.DefaultLanguage]
	if !ok || len(fallback.Polite) == 0 || fallback.NoResults == "" {
		return nil, fmt.Errorf("parse messages: %q bundle must define polite and no_results", domain.DefaultLanguage)
	}
	return &Messages{
		bundles: bundles,
		rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// WithSeed makes polite-message selection deterministic.
func (m *Messages) WithSeed(seed uint64) *Messages {
	return &Messages{bundles: m.bundles, rand: rand.New(rand.NewPCG(seed, seed))}
}

func (m *Messages) bundle(lang domain.Language) Bundle {
	if b, ok := m.bundles[lang]; ok {
		return b
	}
	return m.bundles[domain.DefaultLanguage]
}

// Polite returns one of the localized polite non-answers at random.
func (m *Messages) Polite(lang domain.Language) string {
	variants := m.bundle(lang).Polite
	if len(variants) == 0 {
		variants = m.bundles[domain.DefaultLanguage].Polite
	}
	m.mu.Lock()
	idx := m.rand.IntN(len(variants))
	m.mu.Unlock()
	return variants[idx]
}

// PoliteVariants lists every polite non-answer for a language.
func (m *Messages) PoliteVariants(lang domain.Language) []string {
	return append([]string(nil), m.bundle(lang).Polite...)
}

func (m *Messages) NoResults(lang domain.Language) string {
	return m.bundle(lang).NoResults
}

func (m *Messages) GeneratedMeta(lang domain.Language) string {
	return orDefault(m.bundle(lang).GeneratedMeta, m.bundles[domain.DefaultLanguage].GeneratedMeta)
}

func (m *Messages) WebMeta(lang domain.Language) string {
	return orDefault(m.bundle(lang).WebMeta, m.bundles[domain.DefaultLanguage].WebMeta)
}

// Preview renders the raw-evidence answer used when synthesis fails.
func (m *Messages) Preview(lang domain.Language, evidence string, limit int) string {
	evidence = strings.TrimSpace(evidence)
	runes := []rune(evidence)
	if limit > 0 && len(runes) > limit {
		evidence = string(runes[:limit]) + "..."
	}
	prefix := orDefault(m.bundle(lang).PreviewPrefix, m.bundles[domain.DefaultLanguage].PreviewPrefix)
	if prefix == "" {
		return evidence
	}
	return prefix + "\n\n" + evidence
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
