package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// envelope is the `{"data": ...}` wrapper every endpoint responds with.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text returns whichever of error/message is set.
func (e ErrorResponse) Text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// APIError is returned for any response with status >= 400.
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d) %s: %s", e.Status, e.Path, e.Message)
}

// Unauthorized reports whether the server rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// NotFound reports a 404.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}
