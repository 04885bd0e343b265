package goSession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/authtest"
	"github.com/MrEthical07/goSession/credential"
)

const (
	testName     = "Ada Lovelace"
	testEmail    = "ada@example.com"
	testPassword = "correct-horse-battery"
)

func newBackend(t *testing.T, opts authtest.Options) *authtest.Server {
	t.Helper()

	srv, err := authtest.NewServer(opts)
	if err != nil {
		t.Fatalf("authtest.NewServer error: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func seedUser(t *testing.T, srv *authtest.Server) {
	t.Helper()

	if _, err := srv.AddUser(testName, testEmail, testPassword); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, srv *authtest.Server, store credential.Store, opts ...func(*Builder)) *Manager {
	t.Helper()

	b := New().
		WithConfig(testConfig(srv.URL)).
		WithStore(store).
		WithLogger(quietLogger())
	for _, opt := range opts {
		opt(b)
	}

	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.Metrics.Enabled = true
	return cfg
}

func userEmail(t *testing.T, u UserRecord) string {
	t.Helper()

	var out struct {
		Email string `json:"email"`
	}
	if err := u.Decode(&out); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return out.Email
}

func mustLoad(t *testing.T, store credential.Store) credential.Credentials {
	t.Helper()

	creds, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("store Load error: %v", err)
	}
	return creds
}

func assertLoggedOut(t *testing.T, m *Manager, store credential.Store) {
	t.Helper()

	snap := m.Snapshot()
	if snap.User != nil || snap.Token != "" || snap.Authenticated || snap.Loading {
		t.Fatalf("expected logged-out state, got %+v", snap)
	}
	if m.IsAuthenticated() {
		t.Fatal("expected IsAuthenticated false")
	}
	if creds := mustLoad(t, store); !creds.Empty() || creds.HasRefresh() {
		t.Fatalf("expected empty store, got %+v", creds)
	}
}

var errInjected = errors.New("injected store failure")

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	inner     *credential.MemoryStore
	failLoad  atomic.Bool
	failSave  atomic.Bool
	failClear atomic.Bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{inner: credential.NewMemoryStore()}
}

func (s *faultyStore) Load(ctx context.Context) (credential.Credentials, error) {
	if s.failLoad.Load() {
		return credential.Credentials{}, errInjected
	}
	return s.inner.Load(ctx)
}

func (s *faultyStore) Save(ctx context.Context, c credential.Credentials) error {
	if s.failSave.Load() {
		return errInjected
	}
	return s.inner.Save(ctx, c)
}

func (s *faultyStore) Clear(ctx context.Context) error {
	if s.failClear.Load() {
		return errInjected
	}
	return s.inner.Clear(ctx)
}

// recorder collects subscriber deliveries.
type recorder struct {
	mu    sync.Mutex
	snaps []Session
}

func (r *recorder) record(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Session(nil), r.snaps...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
