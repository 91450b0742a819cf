// Package dataset reads question/answer datasets for bulk import.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// LoadFile picks the decoder from the file extension (.json or .xlsx).
func LoadFile(path string, source string) ([]domain.KnowledgeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var entries []domain.KnowledgeEntry
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		entries, err = DecodeJSON(f)
	case ".xlsx":
		entries, err = ReadXLSX(f)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "load dataset", fmt.Errorf("unsupported dataset extension %q", ext))
	}
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = filepath.Base(path)
	}
	for i := range entries {
		if entries[i].Source == "" {
			entries[i].Source = source
		}
	}
	return entries, nil
}

type jsonEntry struct {
	Question map[string][]string `json:"question"`
	Reponse  map[string][]string `json:"reponse"`
	Answer   map[string][]string `json:"answer"`
	Meta     map[string][]string `json:"meta"`
	Source   string              `json:"source"`
}

// DecodeJSON reads the multilingual dataset format:
// [{"question":{"fr":[...]}, "reponse":{"fr":[...]}, "meta":{"fr":[...]}}].
// "answer" is accepted as an alias of "reponse".
func DecodeJSON(r io.Reader) ([]domain.KnowledgeEntry, error) {
	var raw []jsonEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode dataset", err)
	}

	out := make([]domain.KnowledgeEntry, 0, len(raw))
	for i, item := range raw {
		answers := item.Reponse
		if len(answers) == 0 {
			answers = item.Answer
		}
		entry := domain.KnowledgeEntry{
			Question: byLanguage(item.Question),
			Answer:   byLanguage(answers),
			Metadata: byLanguage(item.Meta),
			Source:   item.Source,
		}
		if len(entry.Question) == 0 || len(entry.Answer) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode dataset", fmt.Errorf("entry %d has no question or answer", i))
		}
		out = append(out, entry)
	}
	return out, nil
}

func byLanguage(in map[string][]string) map[domain.Language][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[domain.Language][]string, len(in))
	for code, values := range in {
		lang := domain.ParseLanguage(code)
		if !lang.IsSupported() {
			continue
		}
		out[lang] = append(out[lang], values...)
	}
	return out
}

// ReadXLSX reads every sheet whose header row names the lang, question and answer
// columns (meta optional). Each data row becomes one single-language entry.
func ReadXLSX(r io.Reader) ([]domain.KnowledgeEntry, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open workbook", err)
	}
	defer book.Close()

	out := make([]domain.KnowledgeEntry, 0)
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		cols, ok := headerColumns(rows[0])
		if !ok {
			continue
		}
		for n, row := range rows[1:] {
			question := cell(row, cols.question)
			answer := cell(row, cols.answer)
			if question == "" && answer == "" {
				continue
			}
			lang := domain.ParseLanguage(cell(row, cols.lang))
			if !lang.IsSupported() {
				return nil, domain.WrapError(domain.ErrInvalidInput, "read workbook", fmt.Errorf("sheet %q row %d: unsupported language %q", sheet, n+2, cell(row, cols.lang)))
			}
			if question == "" || answer == "" {
				return nil, domain.WrapError(domain.ErrInvalidInput, "read workbook", fmt.Errorf("sheet %q row %d: question and answer are required", sheet, n+2))
			}
			entry := domain.NewSingleEntry(lang, question, answer, cell(row, cols.meta), "")
			out = append(out, entry)
		}
	}
	return out, nil
}

type columns struct {
	lang, question, answer, meta int
}

func headerColumns(header []string) (columns, bool) {
	cols := columns{lang: -1, question: -1, answer: -1, meta: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "lang", "language", "langue":
			cols.lang = i
		case "question":
			cols.question = i
		case "answer", "reponse", "réponse":
			cols.answer = i
		case "meta", "metadata":
			cols.meta = i
		}
	}
	return cols, cols.lang >= 0 && cols.question >= 0 && cols.answer >= 0
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
