// Package tenancy enforces tenant isolation for every engine operation.
//
// Every resolution and mutation routes through Guard before any store access:
// the acting principal's tenant must equal the tenant of every entity the
// call references. Violations are rejected with a cross-tenant error that the
// outer boundary surfaces as not-found, so callers cannot probe for the
// existence of other tenants' data.
package tenancy
