package ledger

import (
	"errors"
	"fmt"
)

// Error is a rejected command or query. A command that returns an Error has
// not changed any ledger state.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// PollID identifies the affected poll, when there is one.
	PollID *PollID

	// Participant identifies the caller or subject, when relevant.
	Participant Participant
}

// ErrorCode categorizes ledger errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the poll or response does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidState indicates the poll status forbids the command.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeUnauthorized indicates the caller lacks the required role.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeInvalidArgument indicates malformed or out-of-range parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeDuplicateAction indicates the participant already responded.
	ErrCodeDuplicateAction ErrorCode = "DUPLICATE_ACTION"

	// ErrCodeExpired indicates the deadline has passed.
	ErrCodeExpired ErrorCode = "EXPIRED"
)

// ErrorCodes lists every code, used by transports to build mapping tables.
var ErrorCodes = []ErrorCode{
	ErrCodeNotFound,
	ErrCodeInvalidState,
	ErrCodeUnauthorized,
	ErrCodeInvalidArgument,
	ErrCodeDuplicateAction,
	ErrCodeExpired,
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.PollID != nil && e.Participant != "" {
		return fmt.Sprintf("%s: %s (poll=%d, participant=%s)", e.Code, e.Message, *e.PollID, e.Participant)
	}
	if e.PollID != nil {
		return fmt.Sprintf("%s: %s (poll=%d)", e.Code, e.Message, *e.PollID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ForPoll returns a copy of e annotated with the poll id.
func (e *Error) ForPoll(id PollID) *Error {
	c := *e
	c.PollID = &id
	return &c
}

// By returns a copy of e annotated with the participant.
func (e *Error) By(p Participant) *Error {
	c := *e
	c.Participant = p
	return &c
}

// CodeOf returns the ledger error code carried by err, or "" when err is not
// (and does not wrap) a ledger error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsInvalidState returns true if the error is an invalid-state error.
func IsInvalidState(err error) bool { return CodeOf(err) == ErrCodeInvalidState }

// IsUnauthorized returns true if the error is an unauthorized error.
func IsUnauthorized(err error) bool { return CodeOf(err) == ErrCodeUnauthorized }

// IsInvalidArgument returns true if the error is an invalid-argument error.
func IsInvalidArgument(err error) bool { return CodeOf(err) == ErrCodeInvalidArgument }

// IsDuplicateAction returns true if the error is a duplicate-action error.
func IsDuplicateAction(err error) bool { return CodeOf(err) == ErrCodeDuplicateAction }

// IsExpired returns true if the error is an expired error.
func IsExpired(err error) bool { return CodeOf(err) == ErrCodeExpired }

// NewPollNotFound creates an Error for a missing poll.
func NewPollNotFound(id PollID) *Error {
	return Errorf(ErrCodeNotFound, "poll does not exist").ForPoll(id)
}

// NewResponseNotFound creates an Error for a missing response.
func NewResponseNotFound(id PollID, respondent Participant) *Error {
	return Errorf(ErrCodeNotFound, "no response from participant").ForPoll(id).By(respondent)
}

// NewPollNotActive creates an Error for a command on a terminal poll.
func NewPollNotActive(id PollID, status Status) *Error {
	return Errorf(ErrCodeInvalidState, "poll is %s", status).ForPoll(id)
}
