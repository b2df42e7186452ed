// Package audit records administrative mutations to the permission engine:
// user level CRUD, permission-matrix changes, and assignment changes, each
// with before/after payloads.
//
// Appends are synchronous with the triggering mutation: the mutation is not
// complete until its audit entry is recorded, and an append failure fails the
// whole mutation. Entries are immutable once written.
//
// Two backends are provided. RingStore is a bounded in-process structure,
// a 10,000-entry FIFO shared by all tenants.
// That cap is global, not a per-tenant quota, so a high-churn tenant can
// evict another tenant's history; Stats exposes per-tenant counts so
// operators can watch for eviction pressure. DBLogger persists to PostgreSQL
// with filtered queries, periodic retention sweeps, and export.
package audit
