// Package errkind classifies the failures attendance operations can surface
// so that callers and the HTTP layer can react to the category rather than
// to individual sentinel values.
package errkind

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	Invalid            Kind = "invalid_request"
	Malformed          Kind = "malformed_token"
	BadSignature       Kind = "bad_signature"
	Expired            Kind = "token_expired"
	AlreadyUsed        Kind = "token_already_used"
	UnknownToken       Kind = "unknown_token"
	AlreadyAttended    Kind = "already_attended"
	InsufficientCredit Kind = "insufficient_credit"
	NotEnrolled        Kind = "not_enrolled"
	SessionInactive    Kind = "session_inactive"
	Conflict           Kind = "conflict"
	Internal           Kind = "internal_error"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, errkind.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
