package core

import "errors"

// Error codes sent to clients.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeAlreadyIdentified = "already_identified"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeUnknownReceiver   = "unknown_receiver"
	ErrCodeEmptyMessage      = "empty_message"
	ErrCodeStoreUnavailable  = "store_unavailable"
)

var (
	// ErrHubStopped is returned when a request arrives after Run has exited.
	ErrHubStopped = errors.New("hub stopped")
	// ErrUnknownClient is returned for connections the hub never registered.
	ErrUnknownClient = errors.New("unknown client")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
