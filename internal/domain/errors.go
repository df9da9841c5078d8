package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage        = errors.New("message has neither text nor media")
	ErrKindMismatch        = errors.New("message kind does not match its content")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrNotFound            = errors.New("not found")
	ErrNotParticipant      = errors.New("user is not a participant of this conversation")
	ErrInvalidParticipants = errors.New("conversation needs two participant ids")
	ErrNoOpenConversation  = errors.New("no conversation is open")
)

// ValidationError is a user-facing rejection raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err should be shown to the user as a blocking message.
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrKindMismatch)
}
