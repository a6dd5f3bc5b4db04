// Package permission models permission codes, the role catalog, and the
// bitset used to hold a user's resolved grants.
//
// # Codes
//
// A permission code is "resource:action", optionally followed by a scope
// qualifier: "patient:update:own" applies only to patients the acting user
// owns, "patient:update:assigned" only to patients assigned to them.
//
// # Sets
//
// A [Registry] assigns each known code a bit. A [Set] built against a frozen
// registry stores registered codes in fixed-width words and keeps any other
// code in a side map, so lookups never depend on whether a code was declared
// up front.
//
// # Architecture boundaries
//
// This package is pure in-memory data with no I/O. It does not decide who is
// allowed to do what; the rbac package does.
package permission
