// Package jwt issues and verifies the signed access/refresh token pairs bound to a
// ward session.
//
// Access tokens carry the principal projection (user, username, roles, permissions,
// session id). Refresh tokens carry only the subject, the session id, and a unique
// token id (jti) that the session store tracks for single-use rotation.
//
// The package holds no mutable state; a [Manager] is safe for concurrent use.
package jwt
