// Package flows runs the login, refresh, validation and logout sequences
// against injected dependencies.
//
// Every Run* function takes a typed Deps struct and reports failure as a kind
// (LoginFailureKind, RefreshFailureKind, ValidateFailureKind) plus the
// underlying error. The engine translates kinds into its public errors,
// counters and audit events, so nothing here imports wardAuth.
//
// Token verification and the session check are separate steps
// (RunVerifyToken, RunCheckSession). Neither extends a session.
package flows
