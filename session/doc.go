// Package session is the authoritative record of live sessions.
//
// A session is one authenticated device instance. It stays live while
// now - LastActivity < InactivityTimeout; every authenticated request slides
// that window forward. Tokens carry a session id, and a token whose session is
// gone is rejected regardless of its signature.
//
// Two backends implement [Backend]: [Store] keeps sessions in Redis and makes
// every multi-key mutation a single Lua script, and [MemoryStore] keeps them in
// process behind a mutex. Both enforce the per-user cap in [Options] atomically
// with session creation.
//
// This package does not parse tokens or evaluate permissions.
package session
