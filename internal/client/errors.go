package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes callers branch on. Every error returned by Client wraps
// exactly one of them.
var (
	ErrAuth       = errors.New("not signed in or not a member")
	ErrNotFound   = errors.New("not found")
	ErrNetwork    = errors.New("network failure")
	ErrValidation = errors.New("rejected as invalid")
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("huddle api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("huddle api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("huddle api error (%d)", e.Status)
}

// Unwrap classifies the status so errors.Is works against the sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrAuth
	case e.Status == http.StatusNotFound || e.Status == http.StatusGone:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError:
		return ErrNetwork
	default:
		return ErrValidation
	}
}

type apiErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func networkError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
}
