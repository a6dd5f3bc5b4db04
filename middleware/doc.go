// Package middleware enforces per-endpoint access requirements in front of
// net/http handlers.
//
// Each request moves through a fixed sequence of states:
//
//	UNAUTHENTICATED -> TOKEN_EXTRACTED -> TOKEN_VERIFIED -> SESSION_LIVE -> AUTHORIZED -> HANDLER_INVOKED
//
// A failure before SESSION_LIVE answers 401; a failure after it answers 403.
// Role and permission checks read the role store through the engine, never
// the claims embedded in the token.
//
// Requirements are declared per ServeMux pattern, in code or YAML (see
// [LoadRequirements]), and applied with [Guard] or [Table].
package middleware
