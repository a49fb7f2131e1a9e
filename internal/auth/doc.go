// Package auth provides authentication and session control for doorgate.
//
// The pieces are:
//   - Codec: classifies stored credentials (salted SHA-256, legacy Base64,
//     plain text), verifies attempts in constant time and encodes new ones
//   - LockoutTracker: per-IP failed attempt counting with a timed block
//   - SessionAuthority: one opaque random token per user, no expiry
//   - Coordinator: the login protocol tying the three together, plus
//     account administration
//
// Credentials in a legacy encoding are re-encoded as salted SHA-256 the
// first time their owner logs in successfully.
package auth
