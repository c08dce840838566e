package services

import (
	"errors"
	"fmt"
	"log"
)

// Sentinel errors classifying every service failure. Handlers map these to
// API error codes with errors.Is; wrapped messages carry the human-readable
// detail.
var (
	// ErrValidation: the request was malformed or violated a field rule.
	// Nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound: the referenced entity does not exist (or is deleted).
	ErrNotFound = errors.New("not found")

	// ErrForbidden: the caller is not allowed to act on this entity.
	// Nothing was written.
	ErrForbidden = errors.New("not allowed")

	// ErrConflict: the entity exists but is not in a state that permits the
	// operation, or a uniqueness rule concedes to an earlier write.
	ErrConflict = errors.New("conflict with current state")

	// ErrEmailExists is returned when an attempt is made to use an email that
	// already exists.
	ErrEmailExists = fmt.Errorf("email already in use by another account: %w", ErrConflict)

	// ErrAlreadyApplied is the duplicate-proposal conflict: the provider
	// already has a pending or accepted proposal on the job.
	ErrAlreadyApplied = fmt.Errorf("you have already applied to this job: %w", ErrConflict)
)

// logServiceWarning records a degraded but non-fatal follow-up failure. The
// primary write has committed when these fire; the caller still gets success.
func logServiceWarning(format string, args ...interface{}) {
	log.Printf("WARNING: "+format, args...)
}
