// Package mgrerrors defines the error-kind taxonomy shared across the
// supervisor: each kind is a sentinel that call sites wrap concrete
// errors against with fmt.Errorf("%w", ...), so callers can classify
// failures with errors.Is without a parallel hierarchy of error types.
package mgrerrors

import "errors"

// Kind is a sentinel representing one of the error kinds from the
// top-level error handling design. Wrap it: fmt.Errorf("%w: %v", Configuration, err).
type Kind error

var (
	// Configuration covers bad config files or bad values. Fatal at startup.
	Configuration Kind = errors.New("configuration error")

	// CollaboratorTransient covers network errors, 5xx, timeouts from an
	// external collaborator. Retried at the call site; exhaustion propagates.
	CollaboratorTransient Kind = errors.New("transient collaborator error")

	// CollaboratorPermanent covers auth failures, 4xx, malformed responses.
	// Propagates immediately, no retry.
	CollaboratorPermanent Kind = errors.New("permanent collaborator error")

	// PersistenceIO covers failing reads/writes of JSON/CSV state. Recoverable;
	// a failing write does not block a block's state transition.
	PersistenceIO Kind = errors.New("persistence I/O error")

	// Scheduling covers empty tariff/forecast data or time-parse failures.
	// Propagates; the supervisor responds by sleeping and retrying.
	Scheduling Kind = errors.New("scheduling error")

	// RoundingTime marks an internal arithmetic/rounding invariant violation.
	// Treated as a programmer bug: fatal.
	RoundingTime Kind = errors.New("rounding/time invariant violated")

	// PoisonedFlag marks a poisoned process-wide flag lock. Fatal.
	PoisonedFlag Kind = errors.New("poisoned flag lock")
)

// Is reports whether err was produced against the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
