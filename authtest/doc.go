// Package authtest runs an in-process auth API for tests and demos.
//
// The server speaks the wire contract the Manager expects:
//
//	POST /api/auth/register {name, email, password}  -> 201 {access_token, refresh_token, token_type, user}
//	POST /api/auth/login    {email, password}        -> 200 same body
//	POST /api/auth/refresh  {refresh_token}          -> 200 same body
//	GET  /api/auth/me       Authorization: Bearer    -> 200 user
//
// Errors are {"detail": "..."}; request validation errors use the list form
// {"detail": [{"loc": [...], "msg": "...", "type": "..."}]}. A missing bearer
// header on /me is 403, an invalid or expired token is 401.
//
// Test knobs: [Server.ExpireAccessTokens] invalidates every access token
// issued so far, [Server.FailRefresh] makes refresh return 401,
// [Server.HoldRefresh] blocks refresh calls until released, and
// [Server.Calls] counts requests per endpoint.
//
// # What this package must NOT do
//
//   - Persist anything beyond the process.
//   - Import the goSession root package.
package authtest
