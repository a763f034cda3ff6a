package coordinator

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/planning-poker/internal/store"
)

// Kind classifies every failure that leaves the coordinator.
type Kind string

const (
	KindCreation     Kind = "creation"
	KindNotFound     Kind = "not_found"
	KindExpired      Kind = "expired"
	KindSubscription Kind = "subscription"
	KindUnavailable  Kind = "unavailable"
	KindInvalidVote  Kind = "invalid_vote"
)

// Error is the only error type returned by coordinator commands and shown
// in View.Err. Err holds the underlying store or validation failure.
type Error struct {
	Kind      Kind
	Op        string
	SessionID string
	Err       error
}

// Match with errors.Is; only Kind is compared.
var (
	ErrCreation     = &Error{Kind: KindCreation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrExpired      = &Error{Kind: KindExpired}
	ErrSubscription = &Error{Kind: KindSubscription}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
	ErrInvalidVote  = &Error{Kind: KindInvalidVote}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, op, sessionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
}

// fromStore turns a store failure into a coordinator error. Missing
// documents keep their own kind; everything else becomes fallback.
func fromStore(op, sessionID string, err error, fallback Kind) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, op, sessionID, err)
	}
	return newError(fallback, op, sessionID, err)
}
