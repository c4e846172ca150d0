package session

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id is not in the store
var ErrSessionNotFound = errors.New("session not found")

// ResolutionError is raised when a session's real file location cannot be
// determined, or the resolved path escapes the trusted storage root. The Tag
// is a short machine-readable context marker used to de-duplicate repeated
// identical failures in the notification channel.
type ResolutionError struct {
	Tag     string
	Message string
}

func (e *ResolutionError) Error() string {
	return e.Message
}

// NewResolutionError builds a tagged resolution failure.
func NewResolutionError(tag, format string, args ...any) *ResolutionError {
	return &ResolutionError{Tag: tag, Message: fmt.Sprintf(format, args...)}
}
