package flows

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/credential"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureLoad
	RefreshFailureMissing
	RefreshFailureRequest
	RefreshFailureMalformed
	RefreshFailurePersist
	RefreshFailureSuperseded
)

// ErrSuperseded is returned by a RefreshDeps.Commit hook that refuses to
// persist because the session changed while the refresh was in flight.
var ErrSuperseded = errors.New("session changed during refresh")

// RefreshResult carries the newly persisted credentials or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	Credentials credential.Credentials
	// Rotated reports that the server returned a different refresh token and
	// it was persisted.
	Rotated bool
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Client Doer
	Store  credential.Store
	Path   string
	// PersistRotated stores a refresh token returned by the endpoint in place
	// of the one that was sent.
	PersistRotated bool
	Now            func() time.Time
	// Commit, when set, replaces Store.Save for the refreshed record.
	// Returning ErrSuperseded drops the result without a persist failure.
	Commit func(ctx context.Context, next credential.Credentials) error
}

// RunRefresh exchanges the stored refresh token for a new access token and
// persists the result. The refresh endpoint is called only when a refresh
// token is stored.
func RunRefresh(ctx context.Context, deps RefreshDeps) RefreshResult {
	current, err := deps.Store.Load(ctx)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureLoad, Err: err}
	}
	if !current.HasRefresh() {
		return RefreshResult{Failure: RefreshFailureMissing, Err: errors.New("no refresh token stored")}
	}

	req, err := apiclient.NewJSONRequest(http.MethodPost, deps.Path, map[string]string{
		"refresh_token": current.RefreshToken,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureRequest, Err: err}
	}
	req.SkipAuthRefresh = true

	resp, err := deps.Client.Do(ctx, req)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureRequest, Err: err}
	}

	var body AuthResponse
	if err := resp.Decode(&body); err != nil {
		return RefreshResult{Failure: RefreshFailureMalformed, Err: err}
	}
	if body.AccessToken == "" {
		return RefreshResult{Failure: RefreshFailureMalformed, Err: errors.New("response has no access_token")}
	}

	next := credential.Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: current.RefreshToken,
		SavedAt:      nowUnix(deps.Now),
	}
	rotated := false
	if deps.PersistRotated && body.RefreshToken != "" && body.RefreshToken != current.RefreshToken {
		next.RefreshToken = body.RefreshToken
		rotated = true
	}

	commit := deps.Commit
	if commit == nil {
		commit = deps.Store.Save
	}
	if err := commit(ctx, next); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return RefreshResult{Failure: RefreshFailureSuperseded, Err: err}
		}
		return RefreshResult{Failure: RefreshFailurePersist, Err: err}
	}

	return RefreshResult{
		Failure:     RefreshFailureNone,
		Credentials: next,
		Rotated:     rotated,
	}
}
