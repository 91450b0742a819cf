package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrKnowledgeNotFound  = errors.New("knowledge index not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTemporary          = errors.New("temporary failure")
	ErrFallbackBlocked    = errors.New("web fallback blocked")
	ErrSynthesisMalformed = errors.New("malformed synthesis output")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
