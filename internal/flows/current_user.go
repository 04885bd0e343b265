package flows

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/goSession/apiclient"
)

// CurrentUserFailureKind classifies current-user fetch failures.
type CurrentUserFailureKind int

const (
	CurrentUserFailureNone CurrentUserFailureKind = iota
	CurrentUserFailureNoToken
	CurrentUserFailureRequest
	CurrentUserFailureMalformed
)

// CurrentUserResult carries the user record or failure metadata.
type CurrentUserResult struct {
	Failure CurrentUserFailureKind
	Err     error
	User    json.RawMessage
}

// CurrentUserDeps captures current-user flow dependencies.
type CurrentUserDeps struct {
	Client Doer
	Path   string
}

// RunFetchCurrentUser GETs the current user with token as bearer. The
// request is eligible for refresh-and-retry by response interceptors.
func RunFetchCurrentUser(ctx context.Context, token string, deps CurrentUserDeps) CurrentUserResult {
	if token == "" {
		return CurrentUserResult{Failure: CurrentUserFailureNoToken, Err: errors.New("no access token")}
	}

	req := &apiclient.Request{Method: http.MethodGet, Path: deps.Path, Header: make(http.Header)}
	req = req.WithBearer(token)

	resp, err := deps.Client.Do(ctx, req)
	if err != nil {
		return CurrentUserResult{Failure: CurrentUserFailureRequest, Err: err}
	}
	if isNullJSON(resp.Body) || !json.Valid(resp.Body) {
		return CurrentUserResult{Failure: CurrentUserFailureMalformed, Err: errors.New("current user response is not a JSON value")}
	}

	return CurrentUserResult{
		Failure: CurrentUserFailureNone,
		User:    json.RawMessage(resp.Body),
	}
}
