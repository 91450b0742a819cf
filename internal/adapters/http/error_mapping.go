package httpadapter

import (
	"net/http"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrKnowledgeNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrFallbackBlocked):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrSynthesisMalformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}
