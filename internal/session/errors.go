package session

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrTransient  = errors.New("store unavailable")

	// Store-level; the coordinator turns these into ErrConflict or retries.
	ErrDuplicateCode   = errors.New("join code already in use")
	ErrDuplicateResult = errors.New("result already submitted")
)

// Known reports whether err already belongs to the taxonomy above.
func Known(err error) bool {
	for _, target := range []error{ErrNotFound, ErrForbidden, ErrConflict, ErrValidation, ErrTransient, ErrDuplicateCode, ErrDuplicateResult} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
