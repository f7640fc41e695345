// Package apperr holds the error kinds shared by the stock cache, the order
// lifecycle and the backend client.
//
// Validation, conflict and auth failures reuse the juju/errors kinds so
// callers can test them with errors.Is. Infrastructure failures are reported
// as *FetchError.
package apperr

import (
	"fmt"

	"github.com/juju/errors"
)

// FetchError reports a failed call to the backend: a transport error, a
// non-2xx status that maps to no other kind, or an undecodable body.
type FetchError struct {
	Op     string // e.g. "GET /products"
	Status int    // 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetch wraps err as a *FetchError for op. A nil err yields nil.
func Fetch(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Op: op, Status: status, Err: err}
}

// Validationf reports a rejected input such as a short reason or a missing
// checkout field.
func Validationf(format string, args ...any) error {
	return errors.NotValidf(format, args...)
}

// Conflictf reports a request that clashes with existing state, e.g. a
// cancellation request that is already pending.
func Conflictf(format string, args ...any) error {
	return errors.AlreadyExistsf(format, args...)
}

// Authf reports a missing or expired session.
func Authf(format string, args ...any) error {
	return errors.Unauthorizedf(format, args...)
}

// Validation, Conflict and Auth carry msg as is. They are used for
// messages that come from the backend and must reach the user verbatim.
func Validation(msg string) error { return errors.NewNotValid(nil, msg) }

func Conflict(msg string) error { return errors.NewAlreadyExists(nil, msg) }

func Auth(msg string) error { return errors.NewUnauthorized(nil, msg) }

func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func IsValidation(err error) bool { return errors.Is(err, errors.NotValid) }

func IsConflict(err error) bool { return errors.Is(err, errors.AlreadyExists) }

func IsAuth(err error) bool { return errors.Is(err, errors.Unauthorized) }

// IsExpected reports whether err is a user-facing outcome (validation or
// conflict) rather than an infrastructure problem.
func IsExpected(err error) bool {
	return IsValidation(err) || IsConflict(err)
}
