package reprivileger

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
var (
	// ErrValidationFailed is returned when a field value violates its
	// declared type or validation rule.
	ErrValidationFailed = errors.New("reprivileger: validation failed")

	// ErrAccessDenied is returned when the acting user lacks the required
	// privilege bits, or touches an unwritable, immutable, administrator-only,
	// computed or label field.
	ErrAccessDenied = errors.New("reprivileger: access denied")

	// ErrReference is returned when a foreign-key target is missing, or a
	// recursive reference chain cycles or exceeds the depth bound.
	ErrReference = errors.New("reprivileger: reference error")

	// ErrConfiguration is returned when the schema configuration is invalid
	// (missing fields, bad submodel reference, conflicting descriptors).
	ErrConfiguration = errors.New("reprivileger: configuration error")

	// ErrLockTimeout is returned when lock acquisition does not complete
	// before the configured timeout.
	ErrLockTimeout = errors.New("reprivileger: lock timeout")

	// ErrStore is returned when the Record Store fails; the store's error
	// is preserved for errors.Is/As inspection.
	ErrStore = errors.New("reprivileger: store error")

	// ErrNotFound is returned when a record does not exist in its class.
	ErrNotFound = errors.New("reprivileger: record not found")

	// ErrNoActor is returned when an operation that requires an acting user
	// is issued without one and without the internal-call marker.
	ErrNoActor = errors.New("reprivileger: no acting user in context")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err     error  // Underlying sentinel error
	Message string // Additional context
	Class   string // Record class involved
	Field   string // Schema field involved (if applicable)
	Rule    string // Validation subrule involved (if applicable)
	UserID  string // User involved (if applicable)
	ActorID string // Actor who triggered the error (if applicable)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithClass adds the record class to the error.
func (e *Error) WithClass(class string) *Error {
	e.Class = class
	return e
}

// WithField adds the schema field name to the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithRule adds the failing validation subrule to the error.
func (e *Error) WithRule(rule string) *Error {
	e.Rule = rule
	return e
}

// WithUser adds user information to the error.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithActor adds actor information to the error.
func (e *Error) WithActor(actorID string) *Error {
	e.ActorID = actorID
	return e
}

// wrapStoreErr folds a Record Store failure into the taxonomy while keeping
// the original error reachable through Unwrap.
func wrapStoreErr(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStore) {
		return err
	}
	return &Error{Err: fmt.Errorf("%w: %w", ErrStore, err), Message: message}
}

// IsValidationFailed checks if an error is a validation failure.
func IsValidationFailed(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsAccessDenied checks if an error is an authorization failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsReference checks if an error is a reference-integrity failure.
func IsReference(err error) bool {
	return errors.Is(err, ErrReference)
}

// IsConfiguration checks if an error is a configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsLockTimeout checks if an error is a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsNotFound checks if an error is a missing-record failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
