package engine

import (
	"errors"
	"strings"
)

// Stable reason codes surfaced to callers of the core operations.
const (
	ReasonAlreadyVoted     = "already_voted"
	ReasonElectionNotOpen  = "election_not_open"
	ReasonIncompleteBallot = "incomplete_ballot"
	ReasonConflict         = "conflict"
)

// ValidationError rejects malformed input before any transaction starts.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// ConflictError reports a business rule blocking the requested change, or an
// integrity violation raised by the store for a concurrent duplicate.
type ConflictError struct {
	Reason string
	Msg    string
}

func (e ConflictError) Error() string { return e.Msg }

// ReasonOf extracts the reason code from an error, if it carries one.
func ReasonOf(err error) string {
	var ce ConflictError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// isConstraintViolation reports whether err is a sqlite constraint failure.
// modernc.org/sqlite surfaces these as plain error strings, so string
// matching is the only handle available (same approach as the driver's other
// consumers).
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
