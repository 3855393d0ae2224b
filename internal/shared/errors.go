package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates an operation conflicting with current entity state.
	ErrStateConflict = errors.New("state conflict")
)

// UserSafeMessage strips internal detail from errors surfaced to API clients.
// Known sentinel errors keep their message, everything else collapses to a
// generic line so SQL and driver internals never leak out.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrStateConflict):
		return err.Error()
	default:
		return "internal error, please retry or contact support"
	}
}
