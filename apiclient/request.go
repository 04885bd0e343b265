package apiclient

import (
	"encoding/json"
	"net/http"
)

// Request describes one call relative to the client's base URL.
//
// Attempt is 0 for the caller's request and grows by one for every
// interceptor-driven resubmission. SkipAuthRefresh opts the request out of
// token refresh (used by the auth endpoints themselves). Owner names the
// session that issued the request; interceptors registered by other sessions
// on the same client leave it alone. Clone and Retry keep Owner.
type Request struct {
	Method          string
	Path            string
	Body            []byte
	Header          http.Header
	Attempt         int
	SkipAuthRefresh bool
	Owner           string
}

// NewJSONRequest marshals payload into a request body. A nil payload sends
// no body.
func NewJSONRequest(method, path string, payload any) (*Request, error) {
	req := &Request{Method: method, Path: path, Header: make(http.Header)}
	if payload == nil {
		return req, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}

	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Retry returns a clone of r marked as the next attempt.
func (r *Request) Retry() *Request {
	out := r.Clone()
	out.Attempt = r.Attempt + 1
	return out
}

// WithBearer returns a clone of r carrying "Authorization: Bearer token".
func (r *Request) WithBearer(token string) *Request {
	out := r.Clone()
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}
