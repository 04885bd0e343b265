// Package flows contains the orchestrators behind every Manager operation.
//
// Each flow (RunCredentialExchange, RunRefresh, RunFetchCurrentUser,
// RunLogout) accepts a typed dependency struct and returns a result carrying
// a failure kind. The root package maps kinds to sentinel errors, metrics and
// session events, and owns every state mutation.
//
// # Architecture boundaries
//
// Flows talk to the API through [Doer] and to persistence through
// credential.Store. They do NOT own either; the Manager does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Touch in-memory session state or notify subscribers.
package flows
