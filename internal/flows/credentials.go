package flows

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/credential"
)

// ExchangeFailureKind classifies login/register failures for root-level
// mapping.
type ExchangeFailureKind int

const (
	ExchangeFailureNone ExchangeFailureKind = iota
	ExchangeFailureEncode
	ExchangeFailureRequest
	ExchangeFailureMalformed
	ExchangeFailurePersist
)

// ExchangeResult carries the persisted credentials and user, or failure
// metadata.
type ExchangeResult struct {
	Failure     ExchangeFailureKind
	Err         error
	Credentials credential.Credentials
	User        json.RawMessage
}

// ExchangeDeps captures login/register flow dependencies.
type ExchangeDeps struct {
	Client Doer
	Store  credential.Store
	Now    func() time.Time
	// Commit, when set, replaces Store.Save and receives the user alongside
	// the new record.
	Commit func(ctx context.Context, creds credential.Credentials, user json.RawMessage) error
}

// AuthResponse is the body returned by login, register and refresh.
type AuthResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	User         json.RawMessage `json:"user"`
}

// RunCredentialExchange posts payload to path and persists the returned
// token pair. Nothing is persisted unless the response carries both tokens
// and a user.
func RunCredentialExchange(ctx context.Context, path string, payload any, deps ExchangeDeps) ExchangeResult {
	req, err := apiclient.NewJSONRequest(http.MethodPost, path, payload)
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailureEncode, Err: err}
	}
	req.SkipAuthRefresh = true

	resp, err := deps.Client.Do(ctx, req)
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailureRequest, Err: err}
	}

	var body AuthResponse
	if err := resp.Decode(&body); err != nil {
		return ExchangeResult{Failure: ExchangeFailureMalformed, Err: err}
	}
	switch {
	case body.AccessToken == "":
		return ExchangeResult{Failure: ExchangeFailureMalformed, Err: errors.New("response has no access_token")}
	case body.RefreshToken == "":
		return ExchangeResult{Failure: ExchangeFailureMalformed, Err: errors.New("response has no refresh_token")}
	case isNullJSON(body.User):
		return ExchangeResult{Failure: ExchangeFailureMalformed, Err: errors.New("response has no user")}
	}

	creds := credential.Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		SavedAt:      nowUnix(deps.Now),
	}
	if deps.Commit != nil {
		err = deps.Commit(ctx, creds, body.User)
	} else {
		err = deps.Store.Save(ctx, creds)
	}
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailurePersist, Err: err}
	}

	return ExchangeResult{
		Failure:     ExchangeFailureNone,
		Credentials: creds,
		User:        body.User,
	}
}
