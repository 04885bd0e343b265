package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/apiclient"
)

// Doer issues API requests. *apiclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error)
}

// Deps groups flow dependency sets. The Manager builds this once in Build.
type Deps struct {
	Exchange    ExchangeDeps
	Refresh     RefreshDeps
	CurrentUser CurrentUserDeps
	Logout      LogoutDeps
}

func nowUnix(now func() time.Time) int64 {
	if now == nil {
		return time.Now().Unix()
	}
	return now().Unix()
}

func isNullJSON(raw []byte) bool {
	return len(raw) == 0 || string(raw) == "null"
}

var _ Doer = (*apiclient.Client)(nil)
