package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

const serpPage = `<html><body><div id="search">
<div class="g">
  <a href="/url?q=https://fso.ump.ma/inscriptions&amp;sa=U"><h3>Inscriptions 2026-2027</h3></a>
  <span>Les inscriptions à la Faculté des Sciences d'Oujda ouvrent le 1er septembre.</span>
</div>
<div class="g">
  <a href="https://spam.example.com/fso"><h3>Pas officiel</h3></a>
  <span>Contenu non officiel sur les inscriptions de la faculté.</span>
</div>
<div class="g">
  <a href="https://www.cg.gov.ma/fr/bourses"><h3>Bourses</h3></a>
  <span>Le portail Minhaty gère les bourses des étudiants marocains.</span>
</div>
<div class="g">
  <a href="/url?q=https://fso.ump.ma/inscriptions&amp;sa=X"><h3>Doublon</h3></a>
  <span>Même page.</span>
</div>
</div></body></html>`

func newTestSource(t *testing.T, baseURL string, opts ...Option) *Source {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RequestsPerSecond = 0
	src, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return src
}

func TestFetchSnippetsParsesAllowListedResults(t *testing.T) {
	var query, hl string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		hl = r.URL.Query().Get("hl")
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(serpPage))
	}))
	defer server.Close()

	snippets, err := newTestSource(t, server.URL).FetchSnippets(context.Background(), "inscription", domain.LangFrench)
	if err != nil {
		t.Fatalf("FetchSnippets() error = %v", err)
	}
	if query != "site:fso.ump.ma OR site:cg.gov.ma inscription" {
		t.Fatalf("unexpected query %q", query)
	}
	if hl != "fr" {
		t.Fatalf("unexpected hl %q", hl)
	}
	if len(snippets) != 2 {
		t.Fatalf("expected 2 allow-listed snippets, got %+v", snippets)
	}
	if snippets[0].URL != "https://fso.ump.ma/inscriptions" || snippets[0].Title != "Inscriptions 2026-2027" {
		t.Fatalf("unexpected first snippet: %+v", snippets[0])
	}
	if !strings.Contains(snippets[0].Snippet, "ouvrent le 1er septembre") {
		t.Fatalf("expected snippet text, got %q", snippets[0].Snippet)
	}
	if snippets[1].URL != "https://www.cg.gov.ma/fr/bourses" {
		t.Fatalf("expected gov.ma subdomain to pass, got %+v", snippets[1])
	}
}

func TestFetchSnippetsRetriesBroaderQuery(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		queries = append(queries, q)
		if strings.HasPrefix(q, "site:") {
			_, _ = w.Write([]byte(`<html><body><p>Aucun résultat</p></body></html>`))
			return
		}
		if r.URL.Query().Get("num") != "5" {
			t.Errorf("expected broader query to ask for 5 results")
		}
		_, _ = w.Write([]byte(serpPage))
	}))
	defer server.Close()

	snippets, err := newTestSource(t, server.URL).FetchSnippets(context.Background(), "bourse", domain.LangFrench)
	if err != nil {
		t.Fatalf("FetchSnippets() error = %v", err)
	}
	if len(queries) != 2 || queries[1] != "bourse faculté des sciences oujda" {
		t.Fatalf("unexpected queries %v", queries)
	}
	if len(snippets) == 0 {
		t.Fatalf("expected broader results")
	}
}

func TestFetchSnippetsDetectsCaptcha(t *testing.T) {
	pages := []string{
		`<html><body><div class="g-recaptcha"></div></body></html>`,
		`<html><body>Our systems have detected unusual traffic from your computer network.</body></html>`,
	}
	for _, page := range pages {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(page))
		}))
		_, err := newTestSource(t, server.URL).FetchSnippets(context.Background(), "examens", domain.LangFrench)
		server.Close()
		if !errors.Is(err, domain.ErrFallbackBlocked) {
			t.Fatalf("expected blocked error for %q, got %v", page, err)
		}
	}
}

func TestFetchSnippetsTooManyRequestsIsBlocked(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
	})
	_, err := newTestSource(t, server.URL, WithExecutor(executor)).FetchSnippets(context.Background(), "examens", domain.LangFrench)
	if !errors.Is(err, domain.ErrFallbackBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry on 429, got %d calls", calls.Load())
	}
}

func TestFetchSnippetsServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestSource(t, server.URL).FetchSnippets(context.Background(), "examens", domain.LangEnglish)
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestFetchSnippetsRejectsEmptyQuery(t *testing.T) {
	_, err := newTestSource(t, "http://127.0.0.1:0").FetchSnippets(context.Background(), "  ", domain.LangFrench)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUnwrapRedirect(t *testing.T) {
	cases := map[string]string{
		"/url?q=https://fso.ump.ma/a&sa=U":                      "https://fso.ump.ma/a",
		"//duckduckgo.com/l/?uddg=https%3A%2F%2Ffso.ump.ma%2Fb": "https://fso.ump.ma/b",
		"https://fso.ump.ma/c":                                  "https://fso.ump.ma/c",
		"/search?q=other":                                       "",
		"javascript:void(0)":                                    "",
	}
	for in, want := range cases {
		if got := unwrapRedirect(in); got != want {
			t.Fatalf("unwrapRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllowList(t *testing.T) {
	allow, err := newAllowList([]string{"fso.ump.ma", ".gov.ma"})
	if err != nil {
		t.Fatalf("newAllowList() error = %v", err)
	}
	cases := map[string]bool{
		"https://fso.ump.ma/x":         true,
		"https://www.fso.ump.ma/x":     true,
		"https://cg.gov.ma/y":          true,
		"https://evilfso.ump.ma.io/":   false,
		"https://notgov.ma/":           false,
		"https://example.com/?fso.ump": false,
	}
	for in, want := range cases {
		if got := allow.allows(in); got != want {
			t.Fatalf("allows(%q) = %v, want %v", in, got, want)
		}
	}
}
