// Package faults defines the error taxonomy shared by the API, the scheduler
// daemon, and the task executor. Classification survives wrapping because
// errors are marked rather than compared by message.
package faults

import (
	"github.com/cockroachdb/errors"
)

// Taxonomy sentinels. Callers classify with the Is* helpers, never directly.
var (
	errValidation      = errors.New("validation error")
	errConflict        = errors.New("conflict")
	errExternalService = errors.New("external service error")
	errTimeout         = errors.New("timeout")
	errNotFound        = errors.New("not found")
)

// Validationf builds an error for input rejected before any task is created.
func Validationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errValidation)
}

// Conflictf builds an error for an operation that lost a race or would
// overlap an in-flight run. Conflicts are deferred, not failed.
func Conflictf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errConflict)
}

// External wraps a failure of a remote collaborator (SPARQL endpoint, LDES
// feed, container runtime). Retried with bounded backoff inside one attempt.
func External(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errExternalService)
}

// Externalf builds an external-service error without a cause.
func Externalf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errExternalService)
}

// Timeoutf builds an error for an executor-enforced deadline.
func Timeoutf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errTimeout)
}

// NotFoundf builds an error for a missing row.
func NotFoundf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errNotFound)
}

func IsValidation(err error) bool      { return errors.Is(err, errValidation) }
func IsConflict(err error) bool        { return errors.Is(err, errConflict) }
func IsExternalService(err error) bool { return errors.Is(err, errExternalService) }
func IsTimeout(err error) bool         { return errors.Is(err, errTimeout) }
func IsNotFound(err error) bool        { return errors.Is(err, errNotFound) }
