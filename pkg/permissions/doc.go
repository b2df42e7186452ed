// Package permissions implements the multi-tenant permission-resolution engine.
//
// # Overview
//
// Tenant administrators define user levels (role-like permission bundles) and
// assign one or more of them to users. This package merges all of a user's
// assigned levels into a single effective decision set: which UI views are
// visible, and which feature actions are allowed at what data scope.
//
// # Data Model
//
// The persisted entities are:
//
//  1. UserLevel: a named, tenant-scoped permission bundle
//  2. ViewPermission: tri-state (allow/deny/inherit) visibility per view
//  3. FeaturePermission: allow/deny plus data scope per (feature, action)
//  4. Assignment: many-to-many binding of users to levels
//
// # Merge Rules
//
// Resolution applies one merge algorithm everywhere:
//
//   - Any level that denies wins outright (deny-overrides)
//   - Otherwise the widest allow wins (for features, the broadest scope)
//   - Otherwise the result is denied (default-deny)
//
// The merge is commutative and associative over the set of assigned levels, so
// results do not depend on assignment order. Inherit rows carry no decision;
// a view or feature never mentioned by any level resolves to denied.
//
// # Scopes
//
// Feature grants carry a data-visibility scope ordered by breadth:
//
//	ScopeOwn < ScopeTeam < ScopeCompany < ScopeAny
//
// A user holding a "team" grant and a "company" grant for the same action is
// permitted at "company" breadth.
//
// # Module Gating
//
// After the level merge, a Gate may suppress views and features whose owning
// module is not enabled for the tenant. Gating only ever narrows the result;
// it behaves as an extra deny source and never widens a grant.
//
// # Caching
//
// Resolved sets are cached per (tenant, user) in a sharded, TTL-bounded LRU,
// optionally mirrored to a Redis tier for multi-process deployments. Every
// administrative mutation invalidates affected entries before it is
// acknowledged; per-key generation counters make the invalidation linearizable
// against concurrent cache fills.
//
// # Failure Semantics
//
// If the store is unreachable, resolution fails closed: the security decision
// is deny, and the store error is returned separately so callers can tell
// "denied" from "unavailable" without ever interpreting uncertainty as
// "allowed".
package permissions
