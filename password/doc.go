// Package password hashes and verifies passwords for the in-process test
// backend.
//
// # Output format
//
// Passwords are pre-hashed with SHA-256 and base64 encoded before bcrypt, so
// inputs longer than bcrypt's 72-byte limit still contribute every byte:
//
//	bcrypt(base64(sha256(password)))
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other goSession package.
//   - Log plaintext passwords.
package password
