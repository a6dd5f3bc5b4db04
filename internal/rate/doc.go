// Package rate provides Redis-backed fixed-window throttles for login and
// refresh traffic.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key layout:
//   - <prefix>:li:<ip>  login failures per client IP
//   - <prefix>:r:<sid>  refreshes per session
//
// Per-account failure counting is the lockout policy's job and lives with
// the credential store, not here.
//
// # What this package must NOT do
//
//   - Decide account lockout.
//   - Be imported outside the wardAuth module.
package rate
