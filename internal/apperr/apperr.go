// Package apperr defines the error taxonomy shared by the sync core.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Kind classifies an error by how the caller can recover from it.
type Kind string

const (
	// KindValidation is bad input caught before any state change.
	KindValidation Kind = "validation"
	// KindAuthorization is a failed role check; nothing was written.
	KindAuthorization Kind = "authorization"
	// KindSync is a failed remote fetch; local data is stale but valid.
	KindSync Kind = "sync"
	// KindMutation is a failed remote write after an optimistic local apply.
	KindMutation Kind = "mutation"
	// KindCache is a failed local store write. Fatal to the current operation.
	KindCache Kind = "cache"
)

// Error is the error type returned and signalled by the sync core.
type Error struct {
	Kind       Kind
	Op         string
	Collection models.Collection
	Scope      string
	EntityID   string
	Message    string
	Err        error

	// Command holds the mutation that failed, so it can be retried.
	Command any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Collection != "" {
		fmt.Fprintf(&b, " [%s", e.Collection)
		if e.Scope != "" {
			fmt.Fprintf(&b, ":%s", e.Scope)
		}
		b.WriteString("]")
	}
	if e.EntityID != "" {
		fmt.Fprintf(&b, " id=%s", e.EntityID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether the user can recover without restarting the operation's owner.
func (e *Error) Recoverable() bool {
	return e.Kind != KindCache
}

// Validation creates a validation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Authorization creates an authorization error.
func Authorization(op, format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Sync wraps a remote fetch failure.
func Sync(op string, collection models.Collection, scope string, err error) *Error {
	return &Error{Kind: KindSync, Op: op, Collection: collection, Scope: scope, Err: err}
}

// Mutation wraps a remote write failure.
func Mutation(op string, collection models.Collection, entityID string, cmd any, err error) *Error {
	return &Error{Kind: KindMutation, Op: op, Collection: collection, EntityID: entityID, Command: cmd, Err: err}
}

// Cache wraps a local store write failure.
func Cache(op string, err error) *Error {
	return &Error{Kind: KindCache, Op: op, Err: err}
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
