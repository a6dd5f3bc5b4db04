// Package wardAuth is the session-aware authentication and role-based access
// control core of a hospital inpatient system.
//
// An [Engine] is assembled with [New] and [Builder.Build]. It issues short-lived
// access tokens and single-use refresh tokens bound to server-side sessions,
// caps concurrent sessions per user, locks accounts after repeated failed
// logins, and answers role, permission and resource-scoped authorization
// questions against a role store. Engine methods are safe for concurrent use.
//
// # Authentication and authorization
//
// A request is authenticated in two steps: [Engine.VerifyAccess] checks the
// token alone, and [Engine.CheckSession] confirms its session is still live.
// Failures of either step classify as [CategoryUnauthenticated]; refused
// authorization classifies as [CategoryForbidden]. [Classify] maps every error
// the engine returns onto one of those categories and a stable client code.
//
// # Boundaries
//
// Credentials and role assignments come from collaborators ([UserStore] and
// rbac.Store). Sessions live in Redis when a client is supplied and in process
// memory otherwise. Audit events are dispatched asynchronously and never fail
// the operation that produced them.
package wardAuth
