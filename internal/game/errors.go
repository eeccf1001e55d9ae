package game

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminated is returned when an action targets a finished session.
	ErrSessionTerminated = errors.New("session has ended")
	// ErrGenerationFailed wraps provider errors, timeouts and empty output.
	ErrGenerationFailed = errors.New("narrative generation failed")
)

// ValidationError reports malformed player input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
