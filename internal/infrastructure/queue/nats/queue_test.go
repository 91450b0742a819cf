package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

func TestEncodeDecodeKeepsLanguages(t *testing.T) {
	entry := domain.KnowledgeEntry{
		Question: map[domain.Language][]string{domain.LangFrench: {"Où est la bibliothèque ?"}, domain.LangArabic: {"أين المكتبة؟"}},
		Answer:   map[domain.Language][]string{domain.LangFrench: {"Bloc B."}, domain.LangArabic: {"البناية ب."}},
		Metadata: map[domain.Language][]string{domain.LangFrench: {"campus"}},
		Source:   "llm",
	}
	payload, err := encodeEntry(entry)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	decoded, err := decodeEntry(payload)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if decoded.Answer[domain.LangArabic][0] != "البناية ب." || decoded.Source != "llm" {
		t.Fatalf("unexpected entry: %+v", decoded)
	}
}

func TestDecodeEntryRejectsIncompletePayload(t *testing.T) {
	if _, err := decodeEntry([]byte(`{"question":{"fr":["q"]}}`)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := decodeEntry([]byte(`not json`)); err == nil {
		t.Fatalf("expected json error")
	}
}

func TestHandleMessageSkipsUndecodablePayload(t *testing.T) {
	called := false
	handleMessage(context.Background(), []byte(`{}`), func(context.Context, domain.KnowledgeEntry) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("handler must not run for invalid payloads")
	}

	handleMessage(context.Background(), []byte(`{"question":{"en":["q"]},"answer":{"en":["a"]}}`), func(_ context.Context, entry domain.KnowledgeEntry) error {
		called = entry.Answer[domain.LangEnglish][0] == "a"
		return errors.New("index down")
	})
	if !called {
		t.Fatalf("expected handler to receive decoded entry")
	}
}

func TestPublishFailuresAreClassified(t *testing.T) {
	err := resilience.WrapTemporary("nats publish", fmt.Errorf("nats publish: %w", nats.ErrConnectionClosed), classifyNATSError)
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected closed connection to be temporary, got %v", err)
	}
	if class := classifyNATSError(nats.ErrNoServers); !class.Retryable {
		t.Fatalf("expected no servers to be retried")
	}
	err = resilience.WrapTemporary("nats publish", errors.New("bad subject"), classifyNATSError)
	if errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
