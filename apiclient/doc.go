// Package apiclient is the shared JSON HTTP client used to talk to the auth
// API and to the application's own endpoints.
//
// # Request model
//
// A [Request] is an immutable-by-convention descriptor. Retries never mutate
// it: they [Request.Retry] into a clone carrying Attempt+1, so the original
// caller's value and any concurrent retry of the same request stay untouched.
//
// # Interceptors
//
// Every completed exchange (success or failure) runs through the registered
// [ResponseInterceptor] chain in registration order. [Client.Use] returns an
// [InterceptorID] that [Client.Eject] removes; owners that register in a
// constructor must eject in their teardown.
//
// # Errors
//
// Non-2xx responses are returned as *[HTTPError], carrying the server's
// "detail" message when the body has one. Transport failures wrap
// [ErrTransport].
//
// # What this package must NOT do
//
//   - Know about tokens, refresh endpoints or session state.
//   - Retry on its own; retries belong to interceptors.
//   - Import goSession or credential.
package apiclient
