// Package shared contains common error types and utilities for error handling
// across the scheduler without domain-specific logic.
//
// # Error Classification
//
// The sentinels follow the failure classes an agent has to tell apart:
//
//   - ErrValidation: rejected setting, schedule or definition; no state change
//   - ErrUnavailable: the datastore failed; fatal for the current batch
//   - ErrConflict: a guarded update lost its race (e.g. a claim was recovered)
//   - ErrProtected: non-forced removal of a system row
//   - ErrResolution / ErrInvocation: a single instance failed; siblings continue
//   - ErrNotFound, ErrTimeout, ErrInvariantViolated
//
// Use KindOf to classify:
//
//	switch shared.KindOf(err) {
//	case shared.KindUnavailable:
//	    // abort the batch
//	case shared.KindConflict:
//	    // somebody else owns the row now, skip it
//	}
//
// # Kind Priority Table
//
//	Priority | Kind
//	---------|----------------------
//	1        | KindCanceled
//	2        | KindTimeout
//	3        | KindUnavailable
//	4        | KindNotFound
//	5        | KindValidation
//	6        | KindProtected
//	7        | KindConflict
//	8        | KindResolution
//	9        | KindInvocation
//	10       | KindInvariantViolated
//
// # Marking driver errors
//
// Store implementations translate driver errors at the boundary:
//
//	if errors.Is(err, pgx.ErrNoRows) {
//	    return shared.MarkKind(err, shared.KindNotFound)
//	}
//	return shared.MarkKind(err, shared.KindUnavailable)
//
// Messages are lowercase and without punctuation so they compose when wrapped.
package shared
