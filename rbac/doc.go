// Package rbac resolves a user's effective roles and permissions and answers
// authorization questions about them.
//
// Grants flatten user -> roles -> permissions into one deduplicated set.
// Every predicate on [Engine] reads the role store (optionally through a
// short-lived [Cache]), never the token, so a role revoked by an
// administrator stops working once the cache entry ages out.
//
// Resource access checks the unscoped permission first, then the ":own"
// variant through the resource type's [ResourceResolver], then ":assigned".
// A resource type with no registered resolver can only be reached through
// the unscoped permission.
package rbac
