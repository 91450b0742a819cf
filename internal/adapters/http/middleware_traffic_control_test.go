package httpadapter

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/config"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/metrics"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestRateLimitRejectsSearchBurstAndCountsIt(t *testing.T) {
	m := metrics.NewHTTPServerMetrics(serviceName)
	faq := &faqFake{env: answeredEnvelope()}
	handler := NewRouter(config.Config{APIRateLimitRPS: 0.5, APIRateLimitBurst: 1}, faq, nil, nil, WithMetrics(m)).Handler()

	first := postJSON(t, handler, "/v1/faq/search", map[string]any{"question": "Quand commencent les examens ?"})
	if first.Code != http.StatusOK {
		t.Fatalf("first search expected 200, got %d", first.Code)
	}
	second := postJSON(t, handler, "/v1/faq/search", map[string]any{"question": "Quand commencent les examens ?"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second search expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After of 2s at 0.5 rps, got %q", second.Header().Get("Retry-After"))
	}
	if faq.calls != 1 {
		t.Fatalf("rejected search must not reach the pipeline, got %d calls", faq.calls)
	}

	if out := scrape(t, m.Handler()); !strings.Contains(out, `fso_faq_http_rejected_total{reason="rate_limited",service="api"} 1`) {
		t.Fatalf("expected rate limit rejection metric, got:\n%s", out)
	}
}

func TestRateLimitDisabledWithoutRPS(t *testing.T) {
	handler := newTestHandler(config.Config{})
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i, res.Code)
		}
	}
}

func TestBackpressureRejectsWhenSlotsAreTaken(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	var reasons []string
	handler := backpressureWithRecorder(base, 1, 20*time.Millisecond, func(reason string) {
		reasons = append(reasons, reason)
	})

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/faq/search", nil))
		done <- res.Code
	}()
	<-started

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/faq/search", nil))
	if res.Code != http.StatusServiceUnavailable || res.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 503 with Retry-After, got %d %q", res.Code, res.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if body["error"] != "server is overloaded, retry later" {
		t.Fatalf("unexpected overload body %v", body)
	}
	if len(reasons) != 1 || reasons[0] != "overloaded" {
		t.Fatalf("expected overloaded rejection to be recorded, got %v", reasons)
	}

	close(release)
	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
