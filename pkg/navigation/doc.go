// Package navigation projects a resolved permission set into the
// permission-filtered menu structure the UI renders, with conditional-caching
// semantics.
//
// The projection is content-addressed: the ETag is a hash of the resolved
// set itself, not of wall-clock time, so identical permission sets computed
// at different times share one ETag and one serialized body. A caller that
// presents the current ETag gets a not-modified signal without the body
// being rebuilt; any permission change produces a new hash, which retires
// the old ETag implicitly.
package navigation
