package browser

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for conditions callers branch on.
var (
	// ErrNotStarted means the control plane is disabled or not initialized.
	ErrNotStarted = errors.New("browser control plane not started")

	// ErrAttachOnly means no browser is reachable and launching is disallowed.
	ErrAttachOnly = errors.New("browser not reachable and attachOnly is set")

	// ErrNoTabs means the tab listing was empty and no target was given.
	ErrNoTabs = errors.New("no open tabs (open one first)")
)

// AmbiguousTargetError is returned when a target id prefix matches more
// than one open tab.
type AmbiguousTargetError struct {
	ID      string
	Matches []string
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("target %q is ambiguous (%d matches)", e.ID, len(e.Matches))
}

// TargetNotFoundError is returned when a target id matches no open tab.
type TargetNotFoundError struct {
	ID string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target %q not found", e.ID)
}

// ValidationError is returned when a tool invocation is missing or has a
// malformed argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UnknownToolError is returned for an unregistered operation name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// LaunchError wraps a failure to spawn or ready the browser process.
// Launch failures are fatal to startup and are not retried.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ProtocolError wraps a raw or automation channel failure that is not one
// of the recognized conditions above.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// StatusFor maps an error to the caller-visible HTTP status classification.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var ambiguous *AmbiguousTargetError
	var notFound *TargetNotFoundError
	var validation *ValidationError
	var unknown *UnknownToolError

	switch {
	case errors.As(err, &ambiguous):
		return http.StatusConflict
	case errors.As(err, &notFound), errors.Is(err, ErrNoTabs):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
