package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/idilsaglam/muchtodo/internal/model"
)

// ErrMalformedResponse is returned when a 2xx body does not match the expected shape.
var ErrMalformedResponse = errors.New("malformed response")

// Error is a non-2xx answer from the backend.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string // the payload's "error" field, verbatim; empty if absent

	// Health is the status body of a 503 from /health, nil otherwise.
	Health *model.HealthStatus
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

func newError(method, path string, status int, body []byte) *Error {
	e := &Error{Method: method, Path: path, Status: status}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Message = strings.TrimSpace(payload.Error)
	}
	return e
}

// Message returns the server-provided error text, or fallback when there is none.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// DegradedHealth returns the status the backend reported along with a failed health check.
func DegradedHealth(err error) (model.HealthStatus, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Health != nil {
		return *apiErr.Health, true
	}
	return model.HealthStatus{}, false
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsClientError reports a 4xx answer. Retrying those never helps.
func IsClientError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}
