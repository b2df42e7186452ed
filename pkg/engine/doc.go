// Package engine is the narrow evaluation and administration API the
// transport layer consumes.
//
// Evaluation requests (resolve views, resolve a feature action, build
// navigation) route through the tenant guard, then the permission cache, and
// on a miss through the resolver and store.
//
// Administrative mutations follow a fixed pipeline: tenant guard, input
// validation, before-state capture, store write, cache invalidation for every
// affected user, then a synchronous audit append. Invalidation and the audit
// append both complete before the mutation is acknowledged; if the audit
// append fails, the store write is compensated and the whole operation
// reports failure.
//
// The HTTP handlers in this package are a boundary adapter only. They carry
// no policy logic and exist so a deployment has a working wire surface; any
// other transport can embed Engine directly.
package engine
