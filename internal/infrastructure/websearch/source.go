// Package websearch fetches result snippets from an HTML search results page,
// restricted to allow-listed official domains.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes     = 2 << 20
	untitled         = "Sans titre"
)

type Config struct {
	BaseURL string
	// Sites are joined into a "site:a OR site:b" prefix for the first query.
	Sites []string
	// AllowedDomains accepts a host equal to, or a subdomain of, an entry.
	AllowedDomains []string
	// BroaderSuffix is appended to the question for the retry without site filters.
	BroaderSuffix     string
	MaxResults        int
	BroaderMaxResults int
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://www.google.com/search",
		Sites:             []string{"fso.ump.ma", "cg.gov.ma"},
		AllowedDomains:    []string{"fso.ump.ma", ".gov.ma"},
		BroaderSuffix:     "faculté des sciences oujda",
		MaxResults:        10,
		BroaderMaxResults: 5,
		UserAgent:         defaultUserAgent,
		RequestsPerSecond: 0.5,
		Burst:             1,
	}
}

// Source implements ports.WebSnippetSource.
type Source struct {
	cfg        Config
	allow      allowList
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Option func(*Source)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Source) {
		if httpClient != nil {
			s.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(s *Source) {
		s.executor = executor
	}
}

func New(cfg Config, opts ...Option) (*Source, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.BroaderMaxResults <= 0 {
		cfg.BroaderMaxResults = def.BroaderMaxResults
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse search base url: %w", err)
	}
	allow, err := newAllowList(cfg.AllowedDomains)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	s := &Source{
		cfg:        cfg,
		allow:      allow,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchSnippets runs the site-restricted query and, when it yields nothing, one broader
// query. A CAPTCHA page fails with domain.ErrFallbackBlocked.
func (s *Source) FetchSnippets(ctx context.Context, query string, lang domain.Language) ([]domain.RawSnippet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "web search", fmt.Errorf("query is empty"))
	}

	snippets, err := s.search(ctx, siteQuery(s.cfg.Sites, query), lang, s.cfg.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(snippets) > 0 || strings.TrimSpace(s.cfg.BroaderSuffix) == "" {
		return snippets, nil
	}
	return s.search(ctx, query+" "+s.cfg.BroaderSuffix, lang, s.cfg.BroaderMaxResults)
}

func (s *Source) search(ctx context.Context, q string, lang domain.Language, num int) ([]domain.RawSnippet, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("web search rate limit: %w", err)
	}

	searchURL := s.searchURL(q, lang, num)
	var doc *goquery.Document
	fetch := func(callCtx context.Context) error {
		var err error
		doc, err = s.fetch(callCtx, searchURL)
		return err
	}

	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, "websearch.fetch", fetch, classifySearchError)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return nil, wrapSearchError(err)
	}
	if isCaptchaPage(doc) {
		return nil, domain.WrapError(domain.ErrFallbackBlocked, "web search", fmt.Errorf("captcha page returned"))
	}
	return parseResults(doc, s.allow, num), nil
}

func (s *Source) searchURL(q string, lang domain.Language, num int) string {
	values := url.Values{}
	values.Set("q", q)
	values.Set("num", strconv.Itoa(num))
	if lang.IsSupported() {
		values.Set("hl", lang.String())
	}
	sep := "?"
	if strings.Contains(s.cfg.BaseURL, "?") {
		sep = "&"
	}
	return s.cfg.BaseURL + sep + values.Encode()
}

func (s *Source) fetch(ctx context.Context, searchURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "fr,en;q=0.8,ar;q=0.6")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewStatusError("web search", "fetch", resp)
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode search charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse search html: %w", err)
	}
	return doc, nil
}

func siteQuery(sites []string, query string) string {
	filters := make([]string, 0, len(sites))
	for _, site := range sites {
		site = strings.TrimSpace(site)
		if site != "" {
			filters = append(filters, "site:"+site)
		}
	}
	if len(filters) == 0 {
		return query
	}
	return strings.Join(filters, " OR ") + " " + query
}
