// Package internal holds code private to goSession.
//
// # Sub-packages
//
//   - flows: request/persist orchestration for login, register, refresh,
//     current-user and logout, returning result structs with failure kinds
//     that the root package maps to errors, metrics and events.
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Hold session state; the Manager owns it.
package internal
