package goSession

import (
	"bytes"
	"encoding/json"
	"errors"
)

// UserRecord is the user object returned by the auth API, kept verbatim.
// A nil UserRecord means "no user".
type UserRecord json.RawMessage

// Decode unmarshals the record into v.
func (u UserRecord) Decode(v any) error {
	if u == nil {
		return errors.New("no user record")
	}
	return json.Unmarshal(u, v)
}

// MarshalJSON emits the raw record, or null.
func (u UserRecord) MarshalJSON() ([]byte, error) {
	if u == nil {
		return []byte("null"), nil
	}
	return u, nil
}

// UnmarshalJSON keeps a copy of data; JSON null yields nil.
func (u *UserRecord) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*u = nil
		return nil
	}
	*u = append((*u)[:0], data...)
	return nil
}

// String returns the record as JSON text.
func (u UserRecord) String() string {
	if u == nil {
		return "null"
	}
	return string(u)
}

func (u UserRecord) clone() UserRecord {
	if u == nil {
		return nil
	}
	return append(UserRecord(nil), u...)
}
