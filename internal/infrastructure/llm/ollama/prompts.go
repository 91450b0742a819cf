package ollama

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

type promptFile struct {
	Evidence         string `yaml:"evidence"`
	System           string `yaml:"system"`
	KnowledgeBase    string `yaml:"knowledge_base"`
	Web              string `yaml:"web"`
	GeneralKnowledge string `yaml:"general_knowledge"`
	Enhance          string `yaml:"enhance"`
	NothingToAdd     string `yaml:"nothing_to_add"`
}

type languagePrompts struct {
	evidence     *template.Template
	system       string
	modes        map[domain.SynthesisMode]*template.Template
	enhance      *template.Template
	nothingToAdd string
}

// Prompts holds the compiled per-language templates. Unknown languages resolve to French.
type Prompts struct {
	langs map[domain.Language]languagePrompts
}

type evidenceView struct {
	Index    int
	Question string
	Answer   string
	Score    string
	Meta     string
}

type promptView struct {
	Question string
	Evidence string
	Answer   string
	Context  string
}

func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPromptsYAML)
}

// LoadPrompts reads an override file; an empty path selects the embedded table.
func LoadPrompts(path string) (*Prompts, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPrompts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return ParsePrompts(data)
}

func ParsePrompts(data []byte) (*Prompts, error) {
	raw := make(map[domain.Language]promptFile)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if _, ok := raw[domain.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("parse prompts: %q prompts are required", domain.DefaultLanguage)
	}

	out := &Prompts{langs: make(map[domain.Language]languagePrompts, len(raw))}
	for lang, file := range raw {
		compiled, err := compileLanguage(string(lang), file)
		if err != nil {
			return nil, err
		}
		out.langs[lang] = compiled
	}
	return out, nil
}

func compileLanguage(name string, file promptFile) (languagePrompts, error) {
	parse := func(field, text string) (*template.Template, error) {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("parse prompts: %s.%s is empty", name, field)
		}
		tpl, err := template.New(name + "." + field).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompts: %s.%s: %w", name, field, err)
		}
		return tpl, nil
	}

	var (
		out languagePrompts
		err error
	)
	if out.evidence, err = parse("evidence", file.Evidence); err != nil {
		return out, err
	}
	if out.enhance, err = parse("enhance", file.Enhance); err != nil {
		return out, err
	}
	out.modes = make(map[domain.SynthesisMode]*template.Template, 3)
	for mode, text := range map[domain.SynthesisMode]string{
		domain.SynthesisFromKnowledge: file.KnowledgeBase,
		domain.SynthesisFromWeb:       file.Web,
		domain.SynthesisGeneral:       file.GeneralKnowledge,
	} {
		tpl, err := parse(string(mode), text)
		if err != nil {
			return out, err
		}
		out.modes[mode] = tpl
	}
	out.system = strings.TrimSpace(file.System)
	out.nothingToAdd = strings.TrimSpace(file.NothingToAdd)
	return out, nil
}

func (p *Prompts) forLanguage(lang domain.Language) languagePrompts {
	if lp, ok := p.langs[lang]; ok {
		return lp
	}
	return p.langs[domain.DefaultLanguage]
}

// Synthesis renders the system and user prompts for a synthesis request.
func (p *Prompts) Synthesis(req domain.SynthesisRequest) (string, string, error) {
	lp := p.forLanguage(req.Language)
	tpl, ok := lp.modes[req.Mode]
	if !ok {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "render prompt", fmt.Errorf("unknown synthesis mode %q", req.Mode))
	}

	blocks := make([]string, 0, len(req.Evidence))
	for idx, hit := range req.Evidence {
		block, err := render(lp.evidence, evidenceView{
			Index:    idx + 1,
			Question: hit.Question,
			Answer:   hit.Answer,
			Score:    fmt.Sprintf("%.3f", hit.Score),
			Meta:     formatMeta(hit.Meta),
		})
		if err != nil {
			return "", "", err
		}
		blocks = append(blocks, block)
	}

	user, err := render(tpl, promptView{
		Question: req.Question,
		Evidence: strings.Join(blocks, "\n\n"),
	})
	if err != nil {
		return "", "", err
	}
	return lp.system, user, nil
}

// Enhancement renders the prompt asking for additions derived from extra context.
func (p *Prompts) Enhancement(lang domain.Language, answer string, extra map[string]any) (string, string, error) {
	lp := p.forLanguage(lang)
	contextJSON, err := json.MarshalIndent(extra, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal extra context: %w", err)
	}
	user, err := render(lp.enhance, promptView{Answer: answer, Context: string(contextJSON)})
	if err != nil {
		return "", "", err
	}
	return lp.system, user, nil
}

// NothingToAdd reports whether the model declined to add anything.
func (p *Prompts) NothingToAdd(lang domain.Language, text string) bool {
	marker := p.forLanguage(lang).nothingToAdd
	if marker == "" {
		return false
	}
	return strings.EqualFold(strings.Trim(strings.TrimSpace(text), ".!"), marker)
}

func render(tpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func formatMeta(meta any) string {
	switch v := meta.(type) {
	case nil:
		return "-"
	case string:
		if strings.TrimSpace(v) == "" {
			return "-"
		}
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
