package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrOffline      = errors.New("offline: mutations are disabled")
	ErrNotConnected = errors.New("channel not connected")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("duplicate")
	ErrTransport    = errors.New("transport failure")
	ErrStaleUpdate  = errors.New("update older than held record")
	ErrNoSession    = errors.New("no active session")
)

const genericFailureMessage = "Request failed"

// APIError is a non-2xx answer from the REST API. Message is the text the
// server returned, suitable for showing inline on the originating form.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return genericFailureMessage
	}
	return e.Message
}

// Rejected reports whether the server refused the request itself, as opposed
// to failing while handling it.
func (e *APIError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// UserMessage returns the text to show for a failed user action: the server's
// message when there is one, otherwise a generic fallback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	if errors.Is(err, ErrOffline) {
		return "You are offline. Changes cannot be saved right now."
	}
	return genericFailureMessage
}
