package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means the request never got a response from the backend.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("could not connect to backend (%s %s): %v. Check that:\n"+
		"• the backend is running at the configured URL\n"+
		"• CORS or proxy settings allow the request\n"+
		"• the network connection is up", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response. Message comes from the body's detail or
// message field when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// errorBody.Detail is either a string or a structured validation list.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

func newAPIError(statusCode int, body errorBody) *APIError {
	msg := detailText(body.Detail)
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP Error: %d %s", statusCode, http.StatusText(statusCode))
	}

	return &APIError{StatusCode: statusCode, Message: msg}
}

// detailText renders a string detail as is and any other JSON value compacted.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func IsNotFound(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

func IsNetworkError(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}
