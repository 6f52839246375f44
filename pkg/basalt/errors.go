package basalt

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFileNotFound is returned when the file to notarize does not exist.
	ErrFileNotFound = errors.New("basalt: file not found")
	// ErrServerUnreachable is returned when no connection to the server could be made.
	ErrServerUnreachable = errors.New("basalt: server unreachable")
)

// NotarizationError is any other failure: a non-2xx status, a malformed
// body, or an error reported by the server.
type NotarizationError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Message    string
}

func (e *NotarizationError) Error() string {
	if e.StatusCode == 0 {
		return "basalt: notarization failed: " + e.Message
	}
	return fmt.Sprintf("basalt: notarization failed (%d): %s", e.StatusCode, e.Message)
}

func newNotarizationError(status int, msg string) *NotarizationError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &NotarizationError{StatusCode: status, Message: msg}
}
