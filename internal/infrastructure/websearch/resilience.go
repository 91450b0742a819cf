package websearch

import (
	"net/http"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

var classifyServerError = resilience.HTTPClassifier(resilience.ServerErrorStatus)

// classifySearchError never retries a blocked response but lets it count against the breaker,
// so a search engine that keeps refusing us is left alone for a while.
func classifySearchError(err error) resilience.ErrorClassification {
	if code, ok := resilience.StatusCode(err); ok && isBlockedStatus(code) {
		return resilience.ErrorClassification{RecordFailure: true}
	}
	return classifyServerError(err)
}

func wrapSearchError(err error) error {
	if code, ok := resilience.StatusCode(err); ok && isBlockedStatus(code) {
		return domain.WrapError(domain.ErrFallbackBlocked, "web search", err)
	}
	return resilience.WrapTemporary("web search", err, classifySearchError)
}

func isBlockedStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusForbidden
}
