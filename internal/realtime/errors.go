package realtime

import (
	"errors"
	"fmt"
)

// Kind classifies realtime failures.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindForbidden
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error is returned by Service operations. Type is the value reported to
// websocket clients in the error event.
type Error struct {
	Kind    Kind
	Type    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return 0
}

func invalid(typ, msg string) *Error {
	return &Error{Kind: KindValidation, Type: typ, Message: msg}
}

func notFound(typ, msg string) *Error {
	return &Error{Kind: KindNotFound, Type: typ, Message: msg}
}

func conflict(typ, msg string) *Error {
	return &Error{Kind: KindConflict, Type: typ, Message: msg}
}

func forbidden(typ, msg string) *Error {
	return &Error{Kind: KindForbidden, Type: typ, Message: msg}
}

func storeFailure(typ, msg string, err error) *Error {
	return &Error{Kind: KindStore, Type: typ, Message: msg, Err: err}
}
