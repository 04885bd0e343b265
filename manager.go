package goSession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/refresh"
)

// Manager owns one client session. Build it with [New]...[Builder.Build].
type Manager struct {
	id            string
	config        Config
	client        *apiclient.Client
	store         credential.Store
	storeCloser   io.Closer
	flows         flows.Deps
	refresher     *refresh.Coordinator[flows.RefreshResult]
	interceptorID apiclient.InterceptorID
	logger        *slog.Logger
	events        *eventDispatcher
	metrics       *Metrics

	// credMu orders credential writes against logout. generation moves on
	// every session boundary (login, register, logout) so that work started
	// under an older session is discarded. Lock order: credMu, notifyMu, mu.
	credMu     sync.Mutex
	generation atomic.Uint64

	// notifyMu serializes state changes with their delivery; mu guards state
	// and subscribers for readers.
	notifyMu    sync.Mutex
	mu          sync.RWMutex
	state       sessionState
	subscribers []subscriber

	initialized atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Initialize restores the session from the store. It runs once; later calls
// return nil without doing anything.
//
// With no stored token the session resolves to logged out without any
// network call. With a stored token the current user is fetched; on success
// the session is authenticated, on failure it is logged out and the fetch
// error is returned. A store read failure also resolves to logged out and is
// returned.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.initialized.CompareAndSwap(false, true) {
		return nil
	}

	creds, err := m.store.Load(ctx)
	if err != nil {
		m.metricInc(MetricStoreFailure)
		m.logger.Warn("goSession: credential store read failed", "error", err)
		m.update(func(s *sessionState) {
			s.clear()
			s.loading = false
		})
		m.emitEvent(ctx, eventSessionRestoreFailure, false, err, nil)
		return err
	}

	if creds.Empty() {
		m.update(func(s *sessionState) { s.loading = false })
		m.logger.Debug("goSession: no stored session")
		return nil
	}

	m.update(func(s *sessionState) { s.setToken(creds.AccessToken) })
	if _, err := m.FetchCurrentUser(ctx); err != nil {
		m.emitEvent(ctx, eventSessionRestoreFailure, false, err, nil)
		return err
	}

	m.metricInc(MetricSessionRestored)
	m.emitEvent(ctx, eventSessionRestored, true, nil, nil)
	m.logger.Info("goSession: session restored")
	return nil
}

// FetchCurrentUser loads the current user with the in-memory token. The
// request goes through the refresh interceptor. Any failure returns
// ErrCurrentUserFetchFailed wrapping the cause and logs the session out,
// unless ctx ended first. Loading is cleared either way.
func (m *Manager) FetchCurrentUser(ctx context.Context) (UserRecord, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	gen := m.generation.Load()
	res := flows.RunFetchCurrentUser(ctx, m.Token(), m.flows.CurrentUser)
	if res.Failure != flows.CurrentUserFailureNone {
		m.metricInc(MetricCurrentUserFailure)
		err := fmt.Errorf("%w: %w", ErrCurrentUserFetchFailed, res.Err)
		m.emitEvent(ctx, eventCurrentUserFailure, false, res.Err, nil)
		// A failed refresh has already logged the session out, and a caller
		// giving up says nothing about the session.
		if ctx.Err() == nil && !errors.Is(res.Err, ErrRefreshFailed) && !errors.Is(res.Err, ErrRefreshTokenMissing) {
			m.forceLogout(ctx, gen, "current_user_fetch_failed", res.Err)
		} else {
			m.update(func(s *sessionState) { s.loading = false })
		}
		return nil, err
	}

	user := UserRecord(res.User).clone()
	if !m.installUser(gen, user) {
		m.metricInc(MetricCurrentUserFailure)
		return nil, fmt.Errorf("%w: %w", ErrCurrentUserFetchFailed, ErrSessionChanged)
	}
	m.metricInc(MetricCurrentUserSuccess)
	return user.clone(), nil
}

// installUser sets the fetched user unless the session generation moved past
// gen during the fetch. Loading is cleared either way.
func (m *Manager) installUser(gen uint64, user UserRecord) bool {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	current := m.generation.Load() == gen
	m.update(func(s *sessionState) {
		if current {
			s.user = user
		}
		s.loading = false
	})
	return current
}

// Login exchanges email and password for a token pair, persists it and sets
// the user. API failures are returned verbatim (*apiclient.HTTPError or a
// transport error) and leave the session unchanged.
func (m *Manager) Login(ctx context.Context, email, password string) (UserRecord, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	res := flows.RunCredentialExchange(ctx, m.config.Endpoints.Login, loginPayload{
		Email:    email,
		Password: password,
	}, m.flows.Exchange)
	return m.finishExchange(ctx, res, MetricLoginSuccess, MetricLoginFailure, eventLoginSuccess, eventLoginFailure)
}

// Register creates an account and signs in with the returned token pair,
// with the same contract as Login.
func (m *Manager) Register(ctx context.Context, name, email, password string) (UserRecord, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	res := flows.RunCredentialExchange(ctx, m.config.Endpoints.Register, registerPayload{
		Name:     name,
		Email:    email,
		Password: password,
	}, m.flows.Exchange)
	return m.finishExchange(ctx, res, MetricRegisterSuccess, MetricRegisterFailure, eventRegisterSuccess, eventRegisterFailure)
}

func (m *Manager) finishExchange(
	ctx context.Context,
	res flows.ExchangeResult,
	successMetric, failureMetric MetricID,
	successEvent, failureEvent string,
) (UserRecord, error) {
	if res.Failure != flows.ExchangeFailureNone {
		var err error
		switch res.Failure {
		case flows.ExchangeFailureMalformed:
			err = fmt.Errorf("%w: %v", ErrMalformedAuthResponse, res.Err)
		case flows.ExchangeFailurePersist:
			m.metricInc(MetricStoreFailure)
			err = fmt.Errorf("%w: %w", ErrCredentialPersist, res.Err)
		default:
			err = res.Err
		}
		m.metricInc(failureMetric)
		m.emitEvent(ctx, failureEvent, false, err, nil)
		m.logger.Debug("goSession: credential exchange failed", "event", failureEvent, "error", err)
		return nil, err
	}

	m.metricInc(successMetric)
	m.emitEvent(ctx, successEvent, true, nil, nil)
	m.logger.Info("goSession: signed in", "event", successEvent)
	return UserRecord(res.User).clone(), nil
}

// commitExchange persists a login or register token pair and installs it
// with the user as a new session.
func (m *Manager) commitExchange(ctx context.Context, creds credential.Credentials, user json.RawMessage) error {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	if err := m.store.Save(ctx, creds); err != nil {
		return err
	}
	m.generation.Add(1)
	record := UserRecord(user).clone()
	m.update(func(s *sessionState) {
		s.setToken(creds.AccessToken)
		s.user = record
		s.loading = false
	})
	return nil
}

// Logout clears the stored credentials and the in-memory session and
// resolves loading. It is idempotent. The in-memory session is cleared even
// when the store fails; the store error is returned.
func (m *Manager) Logout(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	m.credMu.Lock()
	m.generation.Add(1)
	err := flows.RunLogout(ctx, m.flows.Logout)
	m.update(func(s *sessionState) {
		s.clear()
		s.loading = false
	})
	m.credMu.Unlock()

	if err != nil {
		m.metricInc(MetricStoreFailure)
		m.logger.Warn("goSession: credential store clear failed", "error", err)
	}

	m.metricInc(MetricLogout)
	m.emitEvent(ctx, eventLogout, err == nil, err, nil)
	m.logger.Info("goSession: logged out")
	return err
}

// forceLogout ends the session after a refresh or current-user failure that
// started under generation gen. A session that has since moved on (logout,
// login, register) is left alone.
func (m *Manager) forceLogout(ctx context.Context, gen uint64, reason string, cause error) {
	m.credMu.Lock()
	if m.generation.Load() != gen {
		m.update(func(s *sessionState) { s.loading = false })
		m.credMu.Unlock()
		m.logger.Debug("goSession: stale failure ignored, session changed", "reason", reason)
		return
	}
	m.generation.Add(1)
	err := flows.RunLogout(ctx, m.flows.Logout)
	m.update(func(s *sessionState) {
		s.clear()
		s.loading = false
	})
	m.credMu.Unlock()

	if err != nil {
		m.metricInc(MetricStoreFailure)
		m.logger.Warn("goSession: credential store clear failed", "error", err)
	}

	m.metricInc(MetricForcedLogout)
	m.emitEvent(ctx, eventForcedLogout, true, cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	m.logger.Warn("goSession: session logged out", "reason", reason, "error", cause)
}

// Do sends req through the shared client. The current access token is
// attached as a bearer token unless req already sets Authorization. A 401
// triggers the refresh protocol. Requests sent on the client directly, or
// by another Manager sharing it, are not refreshed by this Manager.
func (m *Manager) Do(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if req == nil {
		return nil, errors.New("nil request")
	}

	if req.Header.Get("Authorization") == "" {
		if token := m.Token(); token != "" {
			req = req.WithBearer(token)
		}
	}
	return ownedClient{client: m.client, owner: m.id}.Do(ctx, req)
}

// Request is the JSON shorthand of Do; body follows apiclient.Client.Request.
func (m *Manager) Request(ctx context.Context, method, path string, body any, headers http.Header) (*apiclient.Response, error) {
	var (
		req *apiclient.Request
		err error
	)
	if raw, ok := body.([]byte); ok {
		req = &apiclient.Request{Method: method, Path: path, Body: raw}
	} else if req, err = apiclient.NewJSONRequest(method, path, body); err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return m.Do(ctx, req)
}

// Client returns the API client the Manager's interceptor is registered on.
func (m *Manager) Client() *apiclient.Client {
	return m.client
}

// Close ejects the refresh interceptor, flushes pending events and releases
// a store opened from Config.Storage. Subsequent operations return
// ErrManagerClosed. Close is idempotent.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}

	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.client.Eject(m.interceptorID)
		m.events.Close()
		if m.storeCloser != nil {
			err = m.storeCloser.Close()
		}
	})
	return err
}

// EventStats reports event dispatcher counters.
func (m *Manager) EventStats() EventStats {
	if m == nil {
		return EventStats{}
	}
	return m.events.Stats()
}

// EventsDropped returns the number of events dropped by a full buffer.
func (m *Manager) EventsDropped() uint64 {
	return m.EventStats().Dropped
}

// RefreshStats reports refresh coordinator counters.
func (m *Manager) RefreshStats() refresh.Stats {
	if m == nil || m.refresher == nil {
		return refresh.Stats{}
	}
	return m.refresher.Stats()
}

// MetricsSnapshot returns a copy of all counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}
