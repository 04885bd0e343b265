// Package goSession manages the client side of an authenticated API session:
// the persisted access/refresh token pair, login/register/logout against the
// auth API, transparent refresh-and-retry on 401, and an observable session
// state for the rest of the application.
//
// A [Manager] is built once per application root through [Builder] and torn
// down with [Manager.Close]. All Manager methods are safe for concurrent use.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Manager], [Builder], [Config],
// [Session] and the event/metric types. Credential persistence lives in
// credential/, HTTP transport and the interceptor chain in apiclient/, refresh
// coordination in refresh/, and operation orchestration under internal/flows.
//
// # Refresh protocol
//
// The Manager registers one response interceptor on its API client. A 401 on
// a request that is neither a retry nor an auth endpoint call triggers one
// refresh exchange (shared by concurrent callers when
// Refresh.Deduplicate is set). On success the request is resubmitted exactly
// once with the new bearer token; on failure the session is logged out and
// the refresh error is returned.
//
// # What this package must NOT do
//
//   - Log or emit token values.
//   - Decide token expiry locally; the server's 401 is authoritative.
//   - Retry anything other than the single post-refresh resubmission.
package goSession
