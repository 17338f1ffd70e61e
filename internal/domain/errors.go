package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrNormalization       = errors.New("normalization error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrCache               = errors.New("cache error")
	ErrInternal            = errors.New("internal error")
)

// Stable error codes surfaced to callers.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeNormalization       = "NORMALIZATION_ERROR"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeCache               = "CACHE_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NormalizationError reports a raw review that cannot be turned into a Review.
type NormalizationError struct {
	Reason   string
	SourceID string
}

func (e *NormalizationError) Error() string {
	if e.SourceID == "" {
		return "normalize: " + e.Reason
	}
	return fmt.Sprintf("normalize %s: %s", e.SourceID, e.Reason)
}

func (e *NormalizationError) Unwrap() error { return ErrNormalization }

// CodeOf returns the stable code for err. Unknown errors are INTERNAL_ERROR.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNormalization):
		return CodeNormalization
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	case errors.Is(err, ErrCache):
		return CodeCache
	}
	return CodeInternal
}
