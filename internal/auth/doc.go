// Package auth authenticates callers of the agent.
//
// # Signed Requests
//
// The hub signs every control API call with the shared site secret:
//
//	x-mrwp-timestamp: <unix seconds>
//	x-mrwp-signature: hex(HMAC-SHA256(secret, timestamp + "\n" + body))
//
// Verification rejects requests whose timestamp is more than ReplayWindow away
// from the agent's clock in either direction, and compares signatures in
// constant time. An empty secret never verifies. Header names are matched
// case-insensitively, with CGI-style HTTP_X_MRWP_* keys accepted as a fallback.
//
// Optionally a replay.Cache refuses a signature that was already accepted
// inside its window.
//
// # Host Administrators
//
// Site administrators bypass the maintenance gate. They present an HS256 JWT,
// minted by the CLI, either as a Bearer token or in the mrwp_admin cookie. The
// token's role claim must be admin or owner.
//
// # Context
//
// Successful authentication attaches an Identity to the request context:
//
//	id := auth.FromContext(r.Context())
package auth
