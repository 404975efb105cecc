package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline errors a caller can act on. These cover
// requests the pipeline refuses to run; outcomes of turns that did run are
// reported as TurnResult statuses instead.
type ErrorCode string

const (
	// ErrCodeUnknownSession indicates the session does not exist.
	ErrCodeUnknownSession ErrorCode = "UNKNOWN_SESSION"
	// ErrCodeNotMember indicates the caller has not joined the session.
	ErrCodeNotMember ErrorCode = "NOT_A_MEMBER"
	// ErrCodeNotOwner indicates an owner-only operation by a non-owner.
	ErrCodeNotOwner ErrorCode = "NOT_OWNER"
	// ErrCodeNotStarted indicates an action before the owner started play.
	ErrCodeNotStarted ErrorCode = "NOT_STARTED"
	// ErrCodeConcluded indicates an action against a finished session.
	ErrCodeConcluded ErrorCode = "SESSION_CONCLUDED"
	// ErrCodeQueueFull indicates the session's turn queue is at capacity.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"
	// ErrCodeClosed indicates the engine is shutting down.
	ErrCodeClosed ErrorCode = "ENGINE_CLOSED"
	// ErrCodeInvalidInput indicates a malformed request (empty IDs,
	// unusable campaign).
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// TurnError is a refused pipeline request with structured context.
type TurnError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	MemberID  string
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	switch {
	case e.SessionID != "" && e.MemberID != "":
		return fmt.Sprintf("%s: %s (session=%s, member=%s)", e.Code, e.Message, e.SessionID, e.MemberID)
	case e.SessionID != "":
		return fmt.Sprintf("%s: %s (session=%s)", e.Code, e.Message, e.SessionID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// HasCode reports whether err is a TurnError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

func newError(code ErrorCode, message, sessionID, memberID string) *TurnError {
	return &TurnError{Code: code, Message: message, SessionID: sessionID, MemberID: memberID}
}
