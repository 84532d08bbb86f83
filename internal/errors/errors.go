package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindConflict
	KindInvalidTransition
	KindUnauthorized
	KindNotFound
	KindPaymentMismatch
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindPaymentMismatch:
		return "payment_mismatch"
	case KindTransient:
		return "transient_storage_failure"
	default:
		return "internal"
	}
}

// Error carries a Kind plus the step (Op) that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Kind.String()
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput      = sentinel(KindInvalidInput)
	ErrConflict          = sentinel(KindConflict)
	ErrInvalidTransition = sentinel(KindInvalidTransition)
	ErrUnauthorized      = sentinel(KindUnauthorized)
	ErrNotFound          = sentinel(KindNotFound)
	ErrPaymentMismatch   = sentinel(KindPaymentMismatch)
	ErrTransient         = sentinel(KindTransient)
)

func sentinel(k Kind) *Error {
	return &Error{Kind: k, Message: k.String()}
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with the step that failed. The kind of err is kept.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// Transient marks err as a retryable storage or infrastructure failure.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context deadlines are transient; anything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	for cur := err; stderrors.As(cur, &e); cur = e.Err {
		if e.Kind != KindInternal {
			return e.Kind
		}
		if e.Err == nil {
			break
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func IsTransient(err error) bool {
	return IsKind(err, KindTransient)
}
