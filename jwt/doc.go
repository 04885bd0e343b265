// Package jwt reads and issues the JWTs exchanged with the auth API.
//
// # Inspection
//
// [Inspect] decodes an access token's registered claims without verifying
// its signature. A client never holds the server's key, so the result is
// informational only (display, diagnostics); expiry is still decided by the
// server answering 401.
//
// # Issuance
//
// [Manager] signs and verifies access and refresh tokens with HS256 or
// Ed25519. It backs the authtest server and any Go service that wants to
// speak the same token shape.
//
// # What this package must NOT do
//
//   - Decide whether a session is authenticated.
//   - Trigger refreshes from the exp claim.
//   - Access storage or the network.
package jwt
