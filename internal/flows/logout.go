package flows

import (
	"context"

	"github.com/MrEthical07/goSession/credential"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Store credential.Store
}

// RunLogout clears the persisted credentials. Clearing an empty store
// succeeds.
func RunLogout(ctx context.Context, deps LogoutDeps) error {
	return deps.Store.Clear(ctx)
}
