// Package refresh coordinates token refresh calls so that concurrent 401s
// share one in-flight exchange.
//
// # Coordination
//
// [Coordinator.Do] runs the refresh function at most once per key at a time;
// callers arriving while it runs wait for and receive the same result. The
// shared call runs on a context detached from any single caller's
// cancellation, so one caller giving up does not fail the others.
//
// With deduplication disabled every caller runs its own refresh and the last
// writer wins in the credential store.
//
// # What this package must NOT do
//
//   - Perform HTTP or storage I/O itself.
//   - Decide when a refresh is needed.
//   - Import goSession, apiclient or credential.
package refresh
