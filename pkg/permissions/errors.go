package permissions

import "errors"

// Sentinel errors returned by the engine and its stores. Callers match them
// with errors.Is; wrapped messages carry the operation context.
var (
	// ErrNotFound covers both genuinely missing entities and entities that
	// exist in a different tenant. The two cases are indistinguishable to
	// external callers.
	ErrNotFound = errors.New("not found")

	// ErrCrossTenant is the tenant guard rejection. It is kept distinct
	// internally but must be surfaced to external callers as a not-found
	// condition to avoid tenant enumeration.
	ErrCrossTenant = errors.New("cross-tenant access")

	// ErrConflict covers duplicate level names within a tenant and deletion
	// of a level with active assignments.
	ErrConflict = errors.New("conflict")

	// ErrValidation covers malformed input: an unknown action, a scope on a
	// non-allow row, an empty identifier.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable indicates a persistence failure. Resolution fails
	// closed (deny); mutations fail with no partial writes.
	ErrStoreUnavailable = errors.New("permission store unavailable")
)
