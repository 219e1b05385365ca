package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Sentinels matched through errors.Is. Every typed error below unwraps to
// exactly one of them.
var (
	ErrConfiguration     = stderrors.New("configuration error")
	ErrRemoteRejected    = stderrors.New("remote rejected request")
	ErrRemoteUnavailable = stderrors.New("remote unavailable")
	ErrNotFound          = stderrors.New("not found")
	ErrParseFailure      = stderrors.New("parse failure")
	ErrValidation        = stderrors.New("validation error")
	ErrCircuitOpen       = stderrors.New("circuit breaker open")
)

// ConfigurationError reports missing or invalid local configuration. It is
// fatal for the operation and never retried.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Setting == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewMissingCredential reports an absent remote credential.
func NewMissingCredential(setting string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Message: "credential is not set"}
}

// RemoteRejectedError is a non-success response to a task start. Body keeps
// the raw remote payload for diagnostics.
type RemoteRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RemoteRejectedError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("remote rejected request: http %d", e.StatusCode)
	}
	return fmt.Sprintf("remote rejected request: http %d: %s", e.StatusCode, body)
}

func (e *RemoteRejectedError) Unwrap() error { return ErrRemoteRejected }

// RemoteUnavailableError is a failed read. StatusCode is zero when the
// request never produced a response.
type RemoteUnavailableError struct {
	StatusCode int
	Err        error
}

func (e *RemoteUnavailableError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("remote unavailable: http %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("remote unavailable: %v", e.Err)
	default:
		return "remote unavailable"
	}
}

func (e *RemoteUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRemoteUnavailable}
	}
	return []error{ErrRemoteUnavailable, e.Err}
}

// NotFoundError reports an artifact the remote does not have.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ParseFailureError reports task output that could not be decoded.
type ParseFailureError struct {
	Err error
}

func (e *ParseFailureError) Error() string {
	return fmt.Sprintf("parse failure: %v", e.Err)
}

func (e *ParseFailureError) Unwrap() []error { return []error{ErrParseFailure, e.Err} }

// Validation wraps a user input problem.
func Validation(message string) error {
	return fmt.Errorf("%s: %w", message, ErrValidation)
}

// IsTransient reports whether err is worth trying again later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, ErrRemoteUnavailable) || stderrors.Is(err, ErrCircuitOpen)
}

// IsBlocking reports whether err must be surfaced to the user rather than
// degraded silently.
func IsBlocking(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, ErrConfiguration) ||
		stderrors.Is(err, ErrRemoteRejected) ||
		stderrors.Is(err, ErrValidation)
}

// FormatForUser renders err as a short message suitable for a terminal or
// an HTTP error body.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigurationError
	if stderrors.As(err, &cfgErr) {
		return fmt.Sprintf("Configuration error: %s. Set BROWSER_USE_API_KEY and try again.", cfgErr.Message)
	}
	var rejected *RemoteRejectedError
	if stderrors.As(err, &rejected) {
		return fmt.Sprintf("The automation service rejected the task (HTTP %d).", rejected.StatusCode)
	}
	switch {
	case stderrors.Is(err, ErrCircuitOpen):
		return "The automation service is temporarily unavailable after repeated failures."
	case stderrors.Is(err, ErrRemoteUnavailable):
		return "The automation service is unavailable right now."
	case stderrors.Is(err, ErrNotFound):
		return "The requested artifact is not available."
	default:
		return err.Error()
	}
}
