package zap

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrUnreachable indicates the engine could not be reached
	// (connection refused, DNS failure, request timeout).
	ErrUnreachable = errors.New("zap: engine unreachable")

	// ErrMalformedResponse indicates a 2xx response whose payload could
	// not be decoded or carried an unexpected value.
	ErrMalformedResponse = errors.New("zap: malformed response")
)

// APIError is a non-2xx answer from the engine. ZAP reports errors as
// {"code": "...", "message": "..."}.
type APIError struct {
	Endpoint   string
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("zap: %s: %s (%s, HTTP %d)", e.Endpoint, e.Message, e.Code, e.StatusCode)
	case e.Code != "":
		return fmt.Sprintf("zap: %s: %s (HTTP %d)", e.Endpoint, e.Code, e.StatusCode)
	default:
		return fmt.Sprintf("zap: %s: HTTP %d", e.Endpoint, e.StatusCode)
	}
}
