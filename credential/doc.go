// Package credential persists the access/refresh token pair of a client
// session as one atomic record.
//
// # Record model
//
// A [Credentials] value always travels whole: stores load, save and clear the
// pair in a single operation so a reader never observes an access token
// without its refresh token (or the reverse). The binary codec ([Encode],
// [Decode]) is versioned; older versions decode forward.
//
// # Backends
//
//   - [MemoryStore]: process-local.
//   - [FileStore]: JSON file replaced atomically on every write.
//   - [RedisStore]: one Redis key per client namespace.
//   - [SQLiteStore]: single-row table in a local SQLite database.
//   - [KVStore]: adapter over any string key-value backend, migrating the
//     legacy two-key layout (token, refresh_token) on read. It has no
//     storage backend name; wrap the caller's [KeyValue] with [NewKVStore]
//     and inject it with goSession's Builder.WithStore.
//
// # What this package must NOT do
//
//   - Validate, parse or refresh tokens.
//   - Track expiry locally; expiry is discovered by the server rejecting a token.
//   - Import goSession, apiclient or jwt.
package credential
