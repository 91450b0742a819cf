package websearch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/idna"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// Result containers, most specific first; the first selector with matches wins.
var resultSelectors = []string{"div.g", ".tF2Cxc", "div.result", "div[data-ved]"}

var titleSelectors = []string{"h3", "[role='heading']", "h2", "a.result__a"}

var captchaSelectors = `iframe[src*="recaptcha"], div[id*="captcha"], div.g-recaptcha, form#captcha-form`

var captchaPhrases = []string{"unusual traffic", "trafic inhabituel", "not a robot", "pas un robot"}

func parseResults(doc *goquery.Document, allow allowList, limit int) []domain.RawSnippet {
	var results *goquery.Selection
	for _, sel := range resultSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			results = found
			break
		}
	}
	if results == nil {
		return nil
	}

	out := make([]domain.RawSnippet, 0, limit)
	seen := make(map[string]struct{}, limit)
	results.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		link := resultLink(item)
		if link == "" || !allow.allows(link) {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}

		out = append(out, domain.RawSnippet{
			Title:   resultTitle(item),
			Snippet: collapseSpace(item.Text()),
			URL:     link,
		})
		return len(out) < limit
	})
	return out
}

func resultLink(item *goquery.Selection) string {
	var link string
	item.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if unwrapped := unwrapRedirect(href); unwrapped != "" {
			link = unwrapped
			return false
		}
		return true
	})
	return link
}

func resultTitle(item *goquery.Selection) string {
	for _, sel := range titleSelectors {
		if title := collapseSpace(item.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return untitled
}

// unwrapRedirect resolves search-engine redirect links ("/url?q=", "uddg=") and returns
// an absolute http(s) URL, or "" when there is none.
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if parsed.Path == "/url" || strings.HasSuffix(parsed.Path, "/l/") || parsed.Path == "/l" {
		for _, key := range []string{"q", "url", "uddg"} {
			if target := parsed.Query().Get(key); target != "" {
				return unwrapRedirect(target)
			}
		}
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

func isCaptchaPage(doc *goquery.Document) bool {
	if doc.Find(captchaSelectors).Length() > 0 {
		return true
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range captchaPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// allowList holds ASCII (punycode) domain suffixes.
type allowList []string

func newAllowList(domains []string) (allowList, error) {
	out := make(allowList, 0, len(domains))
	for _, d := range domains {
		d = strings.Trim(strings.TrimSpace(d), ".")
		if d == "" {
			continue
		}
		ascii, err := idna.Lookup.ToASCII(d)
		if err != nil {
			return nil, fmt.Errorf("allowed domain %q: %w", d, err)
		}
		out = append(out, strings.ToLower(ascii))
	}
	return out, nil
}

// allows reports whether the URL's host is an allowed domain or one of its subdomains.
// An empty list allows everything.
func (a allowList) allows(rawURL string) bool {
	if len(a) == 0 {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host, err := idna.Lookup.ToASCII(strings.TrimSuffix(parsed.Hostname(), "."))
	if err != nil || host == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, d := range a {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
