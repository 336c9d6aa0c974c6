package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates there is no open connection.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live client.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrNotReady indicates an application event was sent before the
	// session was confirmed. The event is dropped.
	ErrNotReady = errors.New("realtime: session not ready")

	// ErrConnectTimeout indicates the websocket handshake did not finish
	// within the connect timeout.
	ErrConnectTimeout = errors.New("realtime: connect timed out")

	// ErrMalformedEvent indicates an inbound message could not be decoded.
	ErrMalformedEvent = errors.New("realtime: malformed event")

	// ErrInvalidAudio indicates an audio payload is not valid base64.
	ErrInvalidAudio = errors.New("realtime: invalid audio payload")
)

// APIError is the payload of an inbound "error" event.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error [%s]: %s", e.Code, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("realtime: API error (%s): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("realtime: API error: %s", e.Message)
}

// ConnectionError represents a websocket transport failure.
type ConnectionError struct {
	// Reason describes what was being attempted.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnecting may help.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable reports whether reconnecting may fix err.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == "server_error" || apiErr.Code == "rate_limit_exceeded"
	}
	return errors.Is(err, ErrConnectTimeout) || errors.Is(err, ErrNotConnected)
}
