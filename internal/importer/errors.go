package importer

// errors.go defines the pipeline's error taxonomy and the mapping from
// internal errors to coded, user-facing messages.
//
// Per-row parse and validation problems are ValidationErrors: they are
// collected into the session's error log and returned alongside the good
// rows, never thrown. Everything else aborts the single call it occurred in:
//
//	ErrSessionNotFound - unknown or expired session identifier
//	ErrSessionTerminal - session already imported or failed
//	ErrStateConflict   - optimistic transition lost a race
//	MappingError       - bad column mapping (step 2 only)
//	ResolutionError    - incomplete or invalid conflict resolutions
//	CommitError        - the atomic write was rejected; session goes to
//	                     StateFailed with the reason in its error log

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound is returned for unknown, expired or destroyed
	// session identifiers.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrSessionTerminal is returned when a step is attempted against a
	// session that already reached imported or failed.
	ErrSessionTerminal = errors.New("import session already completed")

	// ErrStateConflict is returned when the session advanced concurrently
	// and the caller's expected state is out of date.
	ErrStateConflict = errors.New("import session state changed concurrently")

	// ErrTooManySessions is returned when all concurrent session slots are
	// occupied. Clients should retry after a short delay.
	ErrTooManySessions = errors.New("too many concurrent import sessions, please try again later")
)

// ValidationError describes one structural or content problem on one line.
// Collected, never fatal to the batch.
type ValidationError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// LineError is a structural parse problem on one physical line.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// MappingError means the submitted column mapping cannot be applied. The
// session stays in StateUploaded so the client can correct and resubmit.
type MappingError struct {
	Column  string // offending source column, if any
	Field   TargetField
	Message string
}

func (e *MappingError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("mapping: column %q: %s", e.Column, e.Message)
	case e.Field != "":
		return fmt.Sprintf("mapping: field %q: %s", e.Field, e.Message)
	default:
		return "mapping: " + e.Message
	}
}

// ResolutionError means the submitted resolutions are incomplete or refer to
// rows or records the session does not know about.
type ResolutionError struct {
	RowIndex int
	Message  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution for row %d: %s", e.RowIndex, e.Message)
}

// CommitError wraps a persistence failure during the atomic commit. The
// session is left in StateFailed and is never retried automatically.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return "commit failed: " + e.Err.Error() }
func (e *CommitError) Unwrap() error { return e.Err }

// UserMessage is a coded, user-facing rendering of an error. The code gives
// support staff something stable to search for.
type UserMessage struct {
	Code    string
	Message string
	Action  string
}

// MapError translates an internal error into a UserMessage. Unknown errors
// map to a generic message; the technical detail belongs in the server log,
// not the response.
func MapError(err error) UserMessage {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return UserMessage{
			Code:    "SES001",
			Message: "Import session not found or expired",
			Action:  "Start a new import and upload the file again",
		}
	case errors.Is(err, ErrSessionTerminal):
		return UserMessage{
			Code:    "SES002",
			Message: "This import has already finished",
			Action:  "Check the import status, or start a new import",
		}
	case errors.Is(err, ErrStateConflict):
		return UserMessage{
			Code:    "SES003",
			Message: "The import was modified by another request",
			Action:  "Reload the import status and repeat the step",
		}
	case errors.Is(err, ErrTooManySessions):
		return UserMessage{
			Code:    "SES004",
			Message: "Too many imports are running right now",
			Action:  "Wait a moment and try again",
		}
	}

	var mappingErr *MappingError
	if errors.As(err, &mappingErr) {
		return UserMessage{
			Code:    "MAP001",
			Message: mappingErr.Error(),
			Action:  "Correct the column mapping and submit it again",
		}
	}

	var resolutionErr *ResolutionError
	if errors.As(err, &resolutionErr) {
		return UserMessage{
			Code:    "RES001",
			Message: resolutionErr.Error(),
			Action:  "Provide a decision for every conflicted row",
		}
	}

	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		msg := strings.ToLower(commitErr.Err.Error())
		if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
			return UserMessage{
				Code:    "IMP002",
				Message: "A student with the same registration was created while this import was in progress",
				Action:  "Start a new import so conflicts can be detected against the current roster",
			}
		}
		return UserMessage{
			Code:    "IMP001",
			Message: "The import could not be written to the database",
			Action:  "No rows were imported. Review the error log and start a new import",
		}
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return UserMessage{
			Code:    "CSV001",
			Message: parseErr.Error(),
			Action:  "Fix the file and upload it again",
		}
	}

	return UserMessage{
		Code:    "GEN001",
		Message: "An unexpected error occurred",
		Action:  "Try again, and contact support with the error code if it persists",
	}
}
