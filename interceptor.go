package goSession

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/internal/flows"
)

const refreshFlightKey = "credentials"

// ownedClient stamps every request with the Manager's id before sending, so
// that only this Manager's interceptor acts on the outcome.
type ownedClient struct {
	client *apiclient.Client
	owner  string
}

func (o ownedClient) Do(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error) {
	if req != nil && req.Owner != o.owner {
		req = req.Clone()
		req.Owner = o.owner
	}
	return o.client.Do(ctx, req)
}

// refreshInterceptor turns the first 401 of a request into one refresh and
// one resubmission. Requests issued by other sessions, retried requests and
// auth endpoint calls pass through.
func (m *Manager) refreshInterceptor(ctx context.Context, c *apiclient.Client, ex apiclient.Exchange) (*apiclient.Response, error) {
	if ex.Request == nil || ex.Request.Owner != m.id {
		return ex.Response, ex.Err
	}
	if m.metrics.LatencyEnabled() {
		m.metrics.Observe(MetricRequestLatency, ex.Duration)
	}

	// Only a 401 straight from the send counts. An error that merely wraps
	// one was already handled earlier in the chain.
	httpErr, ok := ex.Err.(*apiclient.HTTPError)
	if !ok || httpErr.Status != http.StatusUnauthorized {
		return ex.Response, ex.Err
	}
	m.metricInc(MetricUnauthorizedResponse)
	if ex.Request.Attempt > 0 || ex.Request.SkipAuthRefresh {
		return ex.Response, ex.Err
	}

	res, joined, err := m.refresher.Do(ctx, refreshFlightKey, m.refreshCredentials)
	if joined {
		m.metricInc(MetricRefreshDeduplicated)
	}
	switch {
	case res.Failure == flows.RefreshFailureMissing:
		return nil, fmt.Errorf("%w: %w", ErrRefreshTokenMissing, ex.Err)
	case res.Failure == flows.RefreshFailureSuperseded:
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrSessionChanged)
	case res.Failure != flows.RefreshFailureNone:
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, res.Err)
	case err != nil:
		return nil, err
	}

	m.metricInc(MetricRequestRetried)
	return c.Do(ctx, ex.Request.Retry().WithBearer(res.Credentials.AccessToken))
}

// refreshCredentials is the shared body of one refresh. State changes,
// events and metrics happen here so that callers joining the flight do not
// repeat them.
func (m *Manager) refreshCredentials(ctx context.Context) (flows.RefreshResult, error) {
	gen := m.generation.Load()
	deps := m.flows.Refresh
	deps.Commit = m.commitRefresh(gen)

	res := flows.RunRefresh(ctx, deps)

	switch res.Failure {
	case flows.RefreshFailureNone:
		m.metricInc(MetricRefreshSuccess)
		if res.Rotated {
			m.metricInc(MetricRefreshRotated)
		}
		m.emitEvent(ctx, eventRefreshSuccess, true, nil, func() map[string]string {
			return map[string]string{"rotated": fmt.Sprint(res.Rotated)}
		})
		m.logger.Debug("goSession: access token refreshed", "rotated", res.Rotated)
		return res, nil

	case flows.RefreshFailureSuperseded:
		m.metricInc(MetricRefreshFailure)
		m.emitEvent(ctx, eventRefreshFailure, false, ErrSessionChanged, nil)
		m.logger.Debug("goSession: refreshed token discarded, session changed")
		return res, ErrSessionChanged

	case flows.RefreshFailureMissing:
		m.metricInc(MetricRefreshTokenMissing)
		m.emitEvent(ctx, eventRefreshTokenMissing, false, ErrRefreshTokenMissing, nil)
		m.forceLogout(ctx, gen, "refresh_token_missing", ErrRefreshTokenMissing)
		return res, ErrRefreshTokenMissing

	default:
		if res.Failure == flows.RefreshFailureLoad || res.Failure == flows.RefreshFailurePersist {
			m.metricInc(MetricStoreFailure)
		}
		m.metricInc(MetricRefreshFailure)
		m.emitEvent(ctx, eventRefreshFailure, false, res.Err, nil)
		m.forceLogout(ctx, gen, "refresh_failed", res.Err)
		return res, res.Err
	}
}

// commitRefresh persists refreshed credentials and installs the new access
// token, unless the session generation moved past gen while the refresh was
// in flight (logout, forced logout, login or register).
func (m *Manager) commitRefresh(gen uint64) func(context.Context, credential.Credentials) error {
	return func(ctx context.Context, next credential.Credentials) error {
		m.credMu.Lock()
		defer m.credMu.Unlock()

		if m.generation.Load() != gen {
			return flows.ErrSuperseded
		}
		if err := m.store.Save(ctx, next); err != nil {
			return err
		}
		m.update(func(s *sessionState) { s.setToken(next.AccessToken) })
		return nil
	}
}
