package goSession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/authtest"
	"github.com/MrEthical07/goSession/credential"
)

func TestLoginThenLogoutClearsEverything(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	user, err := m.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if got := userEmail(t, user); got != testEmail {
		t.Fatalf("Login user email = %q, want %q", got, testEmail)
	}
	if !m.IsAuthenticated() || m.Token() == "" {
		t.Fatal("expected authenticated session after login")
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	assertLoggedOut(t, m, store)

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("second Logout error: %v", err)
	}
	assertLoggedOut(t, m, store)
}

func TestLoginPersistsServerTokens(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)

	if _, err := m.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	creds := mustLoad(t, store)
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		t.Fatalf("expected both tokens persisted, got %+v", creds)
	}
	if creds.AccessToken != m.Token() {
		t.Fatal("persisted access token differs from in-memory token")
	}
	if creds.SavedAt == 0 {
		t.Fatal("expected SavedAt to be set")
	}

	snap := m.Snapshot()
	if !snap.Authenticated || snap.Loading || snap.Subject == "" || snap.ExpiresAt.IsZero() {
		t.Fatalf("unexpected snapshot after login: %+v", snap)
	}
}

func TestRegisterAuthenticatesAndPersists(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)

	user, err := m.Register(context.Background(), testName, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if got := userEmail(t, user); got != testEmail {
		t.Fatalf("Register user email = %q", got)
	}
	if !m.IsAuthenticated() {
		t.Fatal("expected authenticated after register")
	}
	if creds := mustLoad(t, store); creds.AccessToken == "" || creds.RefreshToken == "" {
		t.Fatalf("expected tokens persisted, got %+v", creds)
	}
	if srv.Calls(authtest.EndpointRegister) != 1 {
		t.Fatalf("register calls = %d, want 1", srv.Calls(authtest.EndpointRegister))
	}
}

func TestRegisterDuplicateReturnsHTTPError(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)

	_, err := m.Register(context.Background(), testName, testEmail, testPassword)
	var httpErr *apiclient.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *apiclient.HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusBadRequest || httpErr.Detail != "Email already registered" {
		t.Fatalf("unexpected HTTPError: %+v", httpErr)
	}
	if m.IsAuthenticated() {
		t.Fatal("failed register must not authenticate")
	}
	if creds := mustLoad(t, store); !creds.Empty() {
		t.Fatal("failed register must not persist")
	}
}

func TestLoginUnauthorizedDoesNotRefresh(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	before := m.Snapshot()

	_, err := m.Login(ctx, testEmail, "wrong-password")
	if apiclient.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if errors.Is(err, ErrRefreshFailed) || errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("login 401 must not go through refresh: %v", err)
	}
	if srv.Calls(authtest.EndpointRefresh) != 0 {
		t.Fatalf("refresh calls = %d, want 0", srv.Calls(authtest.EndpointRefresh))
	}
	if after := m.Snapshot(); after.Token != before.Token || !after.Authenticated {
		t.Fatal("failed login must leave the previous session unchanged")
	}
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	oldToken := m.Token()
	oldRefresh := mustLoad(t, store).RefreshToken

	srv.ExpireAccessTokens()
	user, err := m.FetchCurrentUser(ctx)
	if err != nil {
		t.Fatalf("FetchCurrentUser error: %v", err)
	}
	if userEmail(t, user) != testEmail {
		t.Fatal("unexpected user after refresh")
	}

	if got := srv.Calls(authtest.EndpointRefresh); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := srv.Calls(authtest.EndpointMe); got != 2 {
		t.Fatalf("me calls = %d, want 2 (original + one retry)", got)
	}

	newToken := m.Token()
	if newToken == "" || newToken == oldToken {
		t.Fatal("expected in-memory token to be replaced")
	}
	creds := mustLoad(t, store)
	if creds.AccessToken != newToken {
		t.Fatal("expected refreshed token to be persisted")
	}
	if creds.RefreshToken != oldRefresh {
		t.Fatal("refresh token must be kept when the server echoes it")
	}

	metrics := m.MetricsSnapshot()
	if metrics.Counters[MetricRefreshSuccess] != 1 || metrics.Counters[MetricRequestRetried] != 1 {
		t.Fatalf("unexpected counters: %+v", metrics.Counters)
	}
	if metrics.Counters[MetricRefreshRotated] != 0 {
		t.Fatal("echoed refresh token must not count as rotation")
	}
}

func TestRetriedUnauthorizedIsNotRefreshedAgain(t *testing.T) {
	var meCalls, refreshCalls int
	var mu sync.Mutex
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/refresh":
			refreshCalls++
			_, _ = w.Write([]byte(`{"access_token":"next"}`))
		default:
			meCalls++
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"nope"}`))
		}
	}))
	t.Cleanup(api.Close)

	store := credential.NewMemoryStore()
	_ = store.Save(context.Background(), credential.Credentials{AccessToken: "old", RefreshToken: "r"})
	m, err := New().WithConfig(testConfig(api.URL)).WithStore(store).WithLogger(quietLogger()).Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Request(context.Background(), http.MethodGet, "/api/items", nil, nil)
	if apiclient.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected the retry's 401, got %v", err)
	}
	if errors.Is(err, ErrRefreshFailed) {
		t.Fatal("retry 401 must propagate unchanged")
	}

	mu.Lock()
	defer mu.Unlock()
	if refreshCalls != 1 || meCalls != 2 {
		t.Fatalf("refresh calls = %d, request calls = %d; want 1 and 2", refreshCalls, meCalls)
	}
}

func TestRefreshFailureLogsOut(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	srv.ExpireAccessTokens()
	srv.FailRefresh(true)

	_, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, nil)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	var httpErr *apiclient.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Path != "/api/auth/refresh" {
		t.Fatalf("expected the refresh endpoint's error, got %v", err)
	}

	assertLoggedOut(t, m, store)
	if srv.Calls(authtest.EndpointMe) != 1 {
		t.Fatalf("me calls = %d, want 1 (no retry after failed refresh)", srv.Calls(authtest.EndpointMe))
	}

	metrics := m.MetricsSnapshot()
	if metrics.Counters[MetricRefreshFailure] != 1 || metrics.Counters[MetricForcedLogout] != 1 {
		t.Fatalf("unexpected counters: %+v", metrics.Counters)
	}
}

func TestFetchCurrentUserRefreshFailure(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	srv.ExpireAccessTokens()
	srv.FailRefresh(true)

	_, err := m.FetchCurrentUser(ctx)
	if !errors.Is(err, ErrCurrentUserFetchFailed) || !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrCurrentUserFetchFailed wrapping ErrRefreshFailed, got %v", err)
	}
	assertLoggedOut(t, m, store)

	if got := m.MetricsSnapshot().Counters[MetricForcedLogout]; got != 1 {
		t.Fatalf("forced logout counted %d times, want 1", got)
	}
}

func TestUnauthorizedWithoutRefreshTokenLogsOut(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	access, _, err := srv.IssueTokens(testEmail)
	if err != nil {
		t.Fatalf("IssueTokens error: %v", err)
	}

	store := credential.NewMemoryStore()
	if err := store.Save(context.Background(), credential.Credentials{AccessToken: access}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	m := newManager(t, srv, store)
	srv.ExpireAccessTokens()

	err = m.Initialize(context.Background())
	if !errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("expected ErrRefreshTokenMissing, got %v", err)
	}
	var httpErr *apiclient.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized || httpErr.Path != "/api/auth/me" {
		t.Fatalf("expected the original 401 in the chain, got %v", err)
	}

	assertLoggedOut(t, m, store)
	if got := srv.Calls(authtest.EndpointRefresh); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
	if got := m.MetricsSnapshot().Counters[MetricRefreshTokenMissing]; got != 1 {
		t.Fatalf("refresh token missing counter = %d, want 1", got)
	}
}

func TestInitializeRestoresPersistedSession(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	access, refresh, err := srv.IssueTokens(testEmail)
	if err != nil {
		t.Fatalf("IssueTokens error: %v", err)
	}

	store := credential.NewMemoryStore()
	_ = store.Save(context.Background(), credential.Credentials{AccessToken: access, RefreshToken: refresh})
	m := newManager(t, srv, store)

	if !m.Loading() {
		t.Fatal("expected loading before Initialize")
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	snap := m.Snapshot()
	if snap.Loading || !snap.Authenticated || snap.Token != access {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if userEmail(t, snap.User) != testEmail {
		t.Fatal("unexpected restored user")
	}
	if srv.Calls(authtest.EndpointLogin) != 0 || srv.Calls(authtest.EndpointRefresh) != 0 {
		t.Fatal("restore must not log in or refresh")
	}
	if srv.Calls(authtest.EndpointMe) != 1 {
		t.Fatalf("me calls = %d, want 1", srv.Calls(authtest.EndpointMe))
	}
	if m.MetricsSnapshot().Counters[MetricSessionRestored] != 1 {
		t.Fatal("expected session restored counter")
	}
}

func TestInitializeWithoutTokenMakesNoCalls(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	snap := m.Snapshot()
	if snap.Loading || snap.User != nil || snap.Authenticated {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	for _, ep := range []authtest.Endpoint{
		authtest.EndpointLogin, authtest.EndpointRegister, authtest.EndpointRefresh, authtest.EndpointMe,
	} {
		if got := srv.Calls(ep); got != 0 {
			t.Fatalf("%s calls = %d, want 0", ep, got)
		}
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	access, refresh, _ := srv.IssueTokens(testEmail)
	store := credential.NewMemoryStore()
	_ = store.Save(context.Background(), credential.Credentials{AccessToken: access, RefreshToken: refresh})
	m := newManager(t, srv, store)

	for i := 0; i < 3; i++ {
		if err := m.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize #%d error: %v", i, err)
		}
	}
	if got := srv.Calls(authtest.EndpointMe); got != 1 {
		t.Fatalf("me calls = %d, want 1", got)
	}
}

func TestInitializeStoreFailureResolvesLoggedOut(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	store := newFaultyStore()
	store.failLoad.Store(true)
	m := newManager(t, srv, store)

	err := m.Initialize(context.Background())
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected store error, got %v", err)
	}
	snap := m.Snapshot()
	if snap.Loading || snap.Authenticated {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if srv.Calls(authtest.EndpointMe) != 0 {
		t.Fatal("store failure must not reach the network")
	}
	if m.MetricsSnapshot().Counters[MetricStoreFailure] != 1 {
		t.Fatal("expected store failure counter")
	}
}

func TestLoginPersistFailureChangesNothing(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := newFaultyStore()
	store.failSave.Store(true)
	m := newManager(t, srv, store)

	_, err := m.Login(context.Background(), testEmail, testPassword)
	if !errors.Is(err, ErrCredentialPersist) || !errors.Is(err, errInjected) {
		t.Fatalf("expected ErrCredentialPersist wrapping the store error, got %v", err)
	}
	if m.IsAuthenticated() || m.Token() != "" {
		t.Fatal("persist failure must leave the session unchanged")
	}
}

func TestLoginMalformedResponse(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","user":{"id":"1"}}`))
	}))
	t.Cleanup(api.Close)

	store := credential.NewMemoryStore()
	m, err := New().WithConfig(testConfig(api.URL)).WithStore(store).WithLogger(quietLogger()).Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Login(context.Background(), testEmail, testPassword)
	if !errors.Is(err, ErrMalformedAuthResponse) {
		t.Fatalf("expected ErrMalformedAuthResponse, got %v", err)
	}
	if creds := mustLoad(t, store); !creds.Empty() {
		t.Fatal("malformed response must not be persisted")
	}
	if m.IsAuthenticated() {
		t.Fatal("malformed response must not authenticate")
	}
}

func TestLogoutClearsMemoryWhenStoreFails(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := newFaultyStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	store.failClear.Store(true)

	if err := m.Logout(ctx); !errors.Is(err, errInjected) {
		t.Fatalf("expected store error from Logout, got %v", err)
	}
	if m.IsAuthenticated() || m.Token() != "" || m.User() != nil {
		t.Fatal("in-memory session must be cleared even when the store fails")
	}
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const workers = 8

	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	srv.ExpireAccessTokens()
	release := srv.HoldRefresh()

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, nil)
			errs <- err
		}()
	}

	waitUntil(t, 2*time.Second, func() bool {
		return srv.Calls(authtest.EndpointMe) == workers && srv.Calls(authtest.EndpointRefresh) == 1
	})
	time.Sleep(100 * time.Millisecond)
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
	}
	if got := srv.Calls(authtest.EndpointRefresh); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := srv.Calls(authtest.EndpointMe); got != 2*workers {
		t.Fatalf("me calls = %d, want %d", got, 2*workers)
	}

	stats := m.RefreshStats()
	if stats.Executed != 1 || stats.Joined != workers-1 || stats.InFlight != 0 {
		t.Fatalf("unexpected refresh stats: %+v", stats)
	}
	counters := m.MetricsSnapshot().Counters
	if counters[MetricRefreshDeduplicated] != workers-1 || counters[MetricRequestRetried] != workers {
		t.Fatalf("unexpected counters: %+v", counters)
	}
}

func TestConcurrentUnauthorizedWithoutDeduplication(t *testing.T) {
	const workers = 4

	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store, func(b *Builder) {
		b.config.Refresh.Deduplicate = false
	})
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	srv.ExpireAccessTokens()
	release := srv.HoldRefresh()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, nil)
			errs <- err
		}()
	}

	waitUntil(t, 2*time.Second, func() bool {
		return srv.Calls(authtest.EndpointMe) == workers
	})
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
	}
	if got := srv.Calls(authtest.EndpointRefresh); got != workers {
		t.Fatalf("refresh calls = %d, want %d", got, workers)
	}
}

func TestRotatedRefreshTokenIsPersisted(t *testing.T) {
	srv := newBackend(t, authtest.Options{RotateRefreshTokens: true})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	oldRefresh := mustLoad(t, store).RefreshToken
	srv.ExpireAccessTokens()

	if _, err := m.FetchCurrentUser(ctx); err != nil {
		t.Fatalf("FetchCurrentUser error: %v", err)
	}
	if got := mustLoad(t, store).RefreshToken; got == oldRefresh || got == "" {
		t.Fatal("expected rotated refresh token to be persisted")
	}
	if m.MetricsSnapshot().Counters[MetricRefreshRotated] != 1 {
		t.Fatal("expected rotation counter")
	}
}

func TestRotatedRefreshTokenIgnoredWhenDisabled(t *testing.T) {
	srv := newBackend(t, authtest.Options{RotateRefreshTokens: true})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store, func(b *Builder) {
		b.config.Refresh.PersistRotatedRefreshToken = false
	})
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	oldRefresh := mustLoad(t, store).RefreshToken
	srv.ExpireAccessTokens()

	if _, err := m.FetchCurrentUser(ctx); err != nil {
		t.Fatalf("FetchCurrentUser error: %v", err)
	}
	if got := mustLoad(t, store).RefreshToken; got != oldRefresh {
		t.Fatal("refresh token must be kept when rotation persistence is disabled")
	}
}

func TestRequestAttachesBearerUnlessSet(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	m := newManager(t, srv, credential.NewMemoryStore())
	ctx := context.Background()

	if _, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, nil); apiclient.StatusCode(err) != http.StatusForbidden {
		t.Fatalf("expected 403 without a session, got %v", err)
	}

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	resp, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, nil)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	if _, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, header); err != nil {
		t.Fatalf("Request with explicit header error: %v", err)
	}
	if got := srv.Calls(authtest.EndpointRefresh); got != 1 {
		t.Fatalf("explicit bad bearer should be refreshed once, refresh calls = %d", got)
	}
}

func TestSubscribeDeliversChangesInOrder(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	m := newManager(t, srv, credential.NewMemoryStore())
	ctx := context.Background()

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	// No change, no delivery.
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	unsubscribe()
	unsubscribe()
	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	snaps := rec.all()
	if len(snaps) != 4 {
		t.Fatalf("got %d snapshots, want 4: %+v", len(snaps), snaps)
	}
	if !snaps[0].Loading || snaps[0].Authenticated {
		t.Fatalf("first snapshot should be the initial loading state: %+v", snaps[0])
	}
	if snaps[1].Loading || snaps[1].Authenticated {
		t.Fatalf("second snapshot should be resolved logged-out: %+v", snaps[1])
	}
	if !snaps[2].Authenticated || snaps[2].Token == "" {
		t.Fatalf("third snapshot should be authenticated: %+v", snaps[2])
	}
	if snaps[3].Authenticated || snaps[3].Token != "" {
		t.Fatalf("fourth snapshot should be logged out: %+v", snaps[3])
	}
}

func TestSubscriberCanUnsubscribeDuringDelivery(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	m := newManager(t, srv, credential.NewMemoryStore())

	var calls int
	var unsubscribe func()
	unsubscribe = m.Subscribe(func(Session) {
		calls++
		if calls == 2 {
			unsubscribe()
		}
	})

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	m := newManager(t, srv, credential.NewMemoryStore())

	if _, err := m.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	snap := m.Snapshot()
	for i := range snap.User {
		snap.User[i] = 'x'
	}
	if userEmail(t, m.User()) != testEmail {
		t.Fatal("mutating a snapshot must not change manager state")
	}
}

func TestEventsAreDispatched(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	user, err := srv.AddUser(testName, testEmail, testPassword)
	if err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	sink := NewChannelSink(16)
	m := newManager(t, srv, credential.NewMemoryStore(), func(b *Builder) {
		b.WithEventSink(sink)
	})

	ctx := apiclient.WithRequestID(context.Background(), "req-1")
	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	select {
	case event := <-sink.Events():
		if event.EventType != eventLoginSuccess || !event.Success {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Subject != user.ID {
			t.Fatalf("event subject = %q, want %q", event.Subject, user.ID)
		}
		if event.RequestID != "req-1" {
			t.Fatalf("event request id = %q", event.RequestID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	if _, err := m.Login(ctx, testEmail, "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	select {
	case event := <-sink.Events():
		if event.EventType != eventLoginFailure || event.Success || event.Error != string(eventErrUnauthorized) {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event delivered")
	}
}

func TestLatencyHistogramObservesRequests(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	m := newManager(t, srv, credential.NewMemoryStore(), func(b *Builder) {
		b.WithLatencyHistograms(true)
	})

	if _, err := m.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	var total uint64
	for _, n := range m.MetricsSnapshot().Histograms[MetricRequestLatency] {
		total += n
	}
	if total != 1 {
		t.Fatalf("observed %d requests, want 1", total)
	}
}

func TestClosedManagerRejectsOperations(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	m := newManager(t, srv, credential.NewMemoryStore())
	ctx := context.Background()

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}

	if _, err := m.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Login after Close: %v", err)
	}
	if err := m.Initialize(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Initialize after Close: %v", err)
	}
	if _, err := m.Request(ctx, http.MethodGet, "/api/auth/me", nil, nil); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Request after Close: %v", err)
	}
	if srv.Calls(authtest.EndpointLogin) != 0 {
		t.Fatal("closed manager must not reach the network")
	}
}

func TestInterceptorRegistrationScope(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	client, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("apiclient.New error: %v", err)
	}

	build := func() *Manager {
		m, err := New().WithAPIClient(client).WithStore(credential.NewMemoryStore()).WithLogger(quietLogger()).Build()
		if err != nil {
			t.Fatalf("Build error: %v", err)
		}
		return m
	}

	for i := 0; i < 5; i++ {
		m := build()
		if got := client.Interceptors(); got != 1 {
			t.Fatalf("iteration %d: interceptors = %d while open, want 1", i, got)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
		if got := client.Interceptors(); got != 0 {
			t.Fatalf("iteration %d: interceptors = %d after close, want 0", i, got)
		}
	}

	a, b := build(), build()
	if got := client.Interceptors(); got != 2 {
		t.Fatalf("interceptors = %d with two open managers, want 2", got)
	}
	_ = a.Close()
	_ = a.Close()
	if got := client.Interceptors(); got != 1 {
		t.Fatalf("interceptors = %d after closing one, want 1", got)
	}
	_ = b.Close()
	if got := client.Interceptors(); got != 0 {
		t.Fatalf("interceptors = %d after closing both, want 0", got)
	}
}

func TestSharedClientRefreshStaysWithOwner(t *testing.T) {
	const bobEmail = "bob@example.com"

	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	if _, err := srv.AddUser("Bob", bobEmail, testPassword); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	client, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("apiclient.New error: %v", err)
	}
	share := func(b *Builder) { b.WithAPIClient(client) }

	// bob registers first so his interceptor runs first on every exchange.
	bobStore, adaStore := credential.NewMemoryStore(), credential.NewMemoryStore()
	bob := newManager(t, srv, bobStore, share)
	ada := newManager(t, srv, adaStore, share)
	ctx := context.Background()

	if _, err := bob.Login(ctx, bobEmail, testPassword); err != nil {
		t.Fatalf("bob Login error: %v", err)
	}
	if _, err := ada.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("ada Login error: %v", err)
	}
	bobCreds := mustLoad(t, bobStore)
	srv.ExpireAccessTokens()

	user, err := ada.FetchCurrentUser(ctx)
	if err != nil {
		t.Fatalf("ada FetchCurrentUser error: %v", err)
	}
	if got := userEmail(t, user); got != testEmail {
		t.Fatalf("ada fetched user %q, want %q", got, testEmail)
	}
	if got := userEmail(t, ada.User()); got != testEmail {
		t.Fatalf("ada session user %q, want %q", got, testEmail)
	}
	if got := userEmail(t, bob.User()); got != bobEmail {
		t.Fatalf("bob session user %q, want %q", got, bobEmail)
	}
	if got := mustLoad(t, bobStore); got != bobCreds || bob.Token() != bobCreds.AccessToken {
		t.Fatalf("bob credentials changed by ada's refresh: %+v", got)
	}
	if got := srv.Calls(authtest.EndpointRefresh); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if bob.RefreshStats().Executed != 0 || ada.RefreshStats().Executed != 1 {
		t.Fatalf("refresh ran on the wrong manager: bob=%+v ada=%+v", bob.RefreshStats(), ada.RefreshStats())
	}
	if got := bob.MetricsSnapshot().Counters[MetricUnauthorizedResponse]; got != 0 {
		t.Fatalf("bob counted %d unauthorized responses from ada's request", got)
	}

	srv.FailRefresh(true)
	if _, err := bob.FetchCurrentUser(ctx); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected bob's refresh to fail, got %v", err)
	}
	assertLoggedOut(t, bob, bobStore)
	if got := srv.Calls(authtest.EndpointRefresh); got != 2 {
		t.Fatalf("refresh calls = %d, want 2 (one per session)", got)
	}
	if !ada.IsAuthenticated() || ada.RefreshStats().Executed != 1 {
		t.Fatal("bob's failed refresh must not touch ada's session")
	}
}

func TestInterceptorIgnoresWrappedAndForeignUnauthorized(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	m := newManager(t, srv, credential.NewMemoryStore())
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	srv.ExpireAccessTokens()

	unauthorized := &apiclient.HTTPError{Status: http.StatusUnauthorized, Path: "/api/auth/me"}
	cases := map[string]apiclient.Exchange{
		"wrapped": {
			Request: &apiclient.Request{Method: http.MethodGet, Path: "/api/auth/me", Owner: m.id},
			Err:     fmt.Errorf("%w: %w", ErrRefreshFailed, unauthorized),
		},
		"foreign": {
			Request: &apiclient.Request{Method: http.MethodGet, Path: "/api/auth/me", Owner: "another-session"},
			Err:     unauthorized,
		},
	}
	for name, ex := range cases {
		if _, err := m.refreshInterceptor(ctx, m.client, ex); err != ex.Err {
			t.Fatalf("%s: error replaced: %v", name, err)
		}
	}

	if got := srv.Calls(authtest.EndpointRefresh); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
	if !m.IsAuthenticated() {
		t.Fatal("session must stay authenticated")
	}
}

func TestCallerDeadlineDuringRefreshKeepsSession(t *testing.T) {
	for _, dedup := range []bool{true, false} {
		t.Run(fmt.Sprintf("dedup=%v", dedup), func(t *testing.T) {
			srv := newBackend(t, authtest.Options{})
			seedUser(t, srv)
			store := credential.NewMemoryStore()
			m := newManager(t, srv, store, func(b *Builder) {
				b.config.Refresh.Deduplicate = dedup
			})
			ctx := context.Background()

			if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
				t.Fatalf("Login error: %v", err)
			}
			before := mustLoad(t, store)
			srv.ExpireAccessTokens()
			release := srv.HoldRefresh()
			t.Cleanup(release)

			reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := m.Request(reqCtx, http.MethodGet, "/api/auth/me", nil, nil)
			if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRefreshFailed) {
				t.Fatalf("expected the caller's deadline, got %v", err)
			}
			if !m.IsAuthenticated() {
				t.Fatal("caller deadline must not log the session out")
			}
			if got := mustLoad(t, store); got != before {
				t.Fatalf("store changed while the refresh was held: %+v", got)
			}

			waitUntil(t, 2*time.Second, func() bool { return srv.Calls(authtest.EndpointRefresh) == 1 })
			release()
			waitUntil(t, 2*time.Second, func() bool { return m.RefreshStats().InFlight == 0 })

			if !m.IsAuthenticated() || m.Token() == before.AccessToken {
				t.Fatalf("refresh finished in the background should install a new token: %+v", m.Snapshot())
			}
			if got := mustLoad(t, store); got.AccessToken != m.Token() || got.RefreshToken != before.RefreshToken {
				t.Fatalf("unexpected stored credentials %+v", got)
			}
			srv.ExpireAccessTokens()
			releaseAgain := srv.HoldRefresh()
			t.Cleanup(releaseAgain)
			fetchCtx, cancelFetch := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancelFetch()
			if _, err := m.FetchCurrentUser(fetchCtx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected FetchCurrentUser to report the deadline, got %v", err)
			}
			if !m.IsAuthenticated() || mustLoad(t, store).Empty() {
				t.Fatal("FetchCurrentUser deadline must not log the session out")
			}
			waitUntil(t, 2*time.Second, func() bool { return srv.Calls(authtest.EndpointRefresh) == 2 })
			releaseAgain()
			waitUntil(t, 2*time.Second, func() bool { return m.RefreshStats().InFlight == 0 })

			if got := m.MetricsSnapshot().Counters[MetricForcedLogout]; got != 0 {
				t.Fatalf("forced logouts = %d, want 0", got)
			}
		})
	}
}

func TestRefreshFinishingAfterLogoutIsDiscarded(t *testing.T) {
	srv := newBackend(t, authtest.Options{})
	seedUser(t, srv)
	store := credential.NewMemoryStore()
	m := newManager(t, srv, store)
	ctx := context.Background()

	if _, err := m.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	srv.ExpireAccessTokens()
	release := srv.HoldRefresh()
	t.Cleanup(release)

	errs := make(chan error, 1)
	go func() {
		_, err := m.FetchCurrentUser(ctx)
		errs <- err
	}()
	waitUntil(t, 2*time.Second, func() bool { return srv.Calls(authtest.EndpointRefresh) == 1 })

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	release()

	var err error
	select {
	case err = <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("FetchCurrentUser did not return")
	}
	if !errors.Is(err, ErrCurrentUserFetchFailed) || !errors.Is(err, ErrSessionChanged) {
		t.Fatalf("expected ErrCurrentUserFetchFailed wrapping ErrSessionChanged, got %v", err)
	}

	assertLoggedOut(t, m, store)
	if got := srv.Calls(authtest.EndpointMe); got != 1 {
		t.Fatalf("me calls = %d, want 1 (no retry with a discarded token)", got)
	}
	counters := m.MetricsSnapshot().Counters
	if counters[MetricForcedLogout] != 0 || counters[MetricLogout] != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}
}
