package alert

import "errors"

// Domain errors for the alert package.
var (
	// ErrAlertNotFound is returned when no alert matches a lookup or
	// status update. Callers that treat "nothing to update" as benign
	// (the error tracker during recovery) check for this and move on.
	ErrAlertNotFound = errors.New("alert: alert not found")

	// ErrAlertConflict is returned when an insert loses the race
	// against the one-active-alert uniqueness constraint. The service
	// retries the operation as an update; this error never escapes to
	// callers of CreateAlert.
	ErrAlertConflict = errors.New("alert: active alert already exists")

	// ErrInvalidSeverity is returned for an unrecognised severity.
	ErrInvalidSeverity = errors.New("alert: invalid severity")

	// ErrInvalidStatus is returned for an unrecognised lifecycle state.
	ErrInvalidStatus = errors.New("alert: invalid status")

	// ErrInvalidTransition is returned for a state change the
	// lifecycle does not permit. Resolved and ignored never convert
	// directly into each other; both route back through active.
	ErrInvalidTransition = errors.New("alert: invalid status transition")
)
