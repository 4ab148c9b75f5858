package llms

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies a backend failure.
type ErrorKind int

const (
	// ErrorKindTerminal is a failure that will not succeed on retry:
	// authentication, malformed request, unknown model.
	ErrorKindTerminal ErrorKind = iota
	// ErrorKindTransient is a failure that may succeed if the same request is
	// sent again later: rate limiting, overload, network timeout.
	ErrorKindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	default:
		return "terminal"
	}
}

var (
	// ErrMissingToken is returned when an adapter is created without credentials.
	ErrMissingToken = errors.New("missing the API token")
	// ErrEmptyResponse is returned when the backend returned no choices.
	ErrEmptyResponse = errors.New("no response")
)

// BackendError is returned by Model.GenerateContent when the backend call fails.
type BackendError struct {
	Provider   ProviderType
	Kind       ErrorKind
	StatusCode int
	Err        error
}

// NewBackendError classifies err and wraps it in BackendError.
// If err is already a BackendError, it is returned as-is.
func NewBackendError(provider ProviderType, statusCode int, err error) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	kind := KindForStatus(statusCode)
	if statusCode == 0 {
		kind = KindForError(err)
	}
	return &BackendError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: statusCode,
		Err:        err,
	}
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s backend %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Transient returns true if the request may succeed when sent again.
func (e *BackendError) Transient() bool {
	return e.Kind == ErrorKindTransient
}

// IsTransient returns true if err wraps a transient BackendError.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient()
	}
	return false
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status == 529: // overloaded
		return ErrorKindTransient
	case status >= 500:
		return ErrorKindTransient
	default:
		return ErrorKindTerminal
	}
}

// KindForError classifies a failure that carries no HTTP status.
func KindForError(err error) ErrorKind {
	if err == nil || errors.Is(err, context.Canceled) {
		return ErrorKindTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTransient
	}
	return ErrorKindTerminal
}
