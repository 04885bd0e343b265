package goSession

import "errors"

var (
	// ErrRefreshTokenMissing is returned when a 401 arrives and no refresh
	// token is stored. The session is logged out without calling the refresh
	// endpoint. The original 401 stays reachable with errors.As.
	ErrRefreshTokenMissing = errors.New("refresh token missing")
	// ErrRefreshFailed wraps the refresh exchange's own error (transport,
	// non-2xx, malformed body, persist). The session is logged out.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrCurrentUserFetchFailed wraps any failure of the current-user fetch.
	// The session is logged out.
	ErrCurrentUserFetchFailed = errors.New("current user fetch failed")
	// ErrMalformedAuthResponse is returned when a 2xx auth response lacks a
	// token or user. Nothing is persisted.
	ErrMalformedAuthResponse = errors.New("malformed auth response")
	// ErrCredentialPersist is returned when the store rejects new credentials.
	// In-memory state is left unchanged.
	ErrCredentialPersist = errors.New("credential persist failed")
	// ErrSessionChanged is wrapped when a refresh or current-user fetch
	// finishes after the session it started under was logged out or replaced.
	// The result is discarded and the newer session is left untouched.
	ErrSessionChanged = errors.New("session changed while request was in flight")
	// ErrManagerClosed is returned by operations after Close.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrBuilderUsed is returned by a second Build on the same Builder.
	ErrBuilderUsed = errors.New("builder already used")
)
