package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

const maxStatusBody = 2048

// StatusError is a non-2xx answer from an upstream HTTP service.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream status error"
	}
	name := strings.TrimSpace(e.Service + " " + e.Operation)
	if e.Body == "" {
		return fmt.Sprintf("%s status: %s", name, e.Status)
	}
	return fmt.Sprintf("%s status: %s: %s", name, e.Status, e.Body)
}

// NewStatusError keeps at most the first 2 KiB of the response body.
func NewStatusError(service, operation string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	return &StatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// StatusCode extracts the upstream status carried by err.
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

func HasStatus(err error, code int) bool {
	got, ok := StatusCode(err)
	return ok && got == code
}

// TransientStatus lists the statuses worth another attempt against a model or index server.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func ServerErrorStatus(code int) bool {
	return code >= http.StatusInternalServerError
}

// HTTPClassifier classifies failures of an HTTP upstream. Statuses accepted by transient are
// retried and count against the breaker; any other status is the caller's fault and counts
// for neither. Network errors are retried.
func HTTPClassifier(transient func(code int) bool) ErrorClassifier {
	return func(err error) ErrorClassification {
		if class, done := classifyCommon(err); done {
			return class
		}
		if code, ok := StatusCode(err); ok {
			if transient(code) {
				return ErrorClassification{Retryable: true, RecordFailure: true}
			}
			return ErrorClassification{}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return ErrorClassification{RecordFailure: true}
	}
}

// SentinelClassifier retries errors matching one of transient and records every other failure.
func SentinelClassifier(transient ...error) ErrorClassifier {
	return func(err error) ErrorClassification {
		if class, done := classifyCommon(err); done {
			return class
		}
		for _, target := range transient {
			if errors.Is(err, target) {
				return ErrorClassification{Retryable: true, RecordFailure: true}
			}
		}
		return ErrorClassification{RecordFailure: true}
	}
}

func classifyCommon(err error) (ErrorClassification, bool) {
	switch {
	case err == nil:
		return ErrorClassification{}, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}, true
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}, true
	default:
		return ErrorClassification{}, false
	}
}

// WrapTemporary tags err as domain.ErrTemporary when classify would retry it or the breaker is open.
func WrapTemporary(operation string, err error, classify ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classify(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
