package goSession

import (
	"bytes"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/google/uuid"
)

// Session is an immutable snapshot of the session state.
type Session struct {
	// User is nil until a current-user fetch, login or register succeeds.
	User UserRecord `json:"user"`
	// Token is the in-memory access token, "" when logged out.
	Token string `json:"-"`
	// Loading is true until Initialize resolves.
	Loading bool `json:"loading"`
	// Authenticated is User != nil. A token without a resolved user is not
	// authenticated.
	Authenticated bool `json:"authenticated"`
	// Subject and ExpiresAt are read from Token's claims without
	// verification when Token is a JWT. Informational only.
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type sessionState struct {
	user    UserRecord
	token   string
	loading bool

	subject   string
	expiresAt time.Time
}

func (s *sessionState) setToken(token string) {
	s.token = token
	s.subject = ""
	s.expiresAt = time.Time{}
	if token == "" {
		return
	}
	if info, err := jwt.Inspect(token); err == nil {
		s.subject = info.Subject
		s.expiresAt = info.ExpiresAt
	}
}

func (s *sessionState) clear() {
	s.user = nil
	s.setToken("")
}

func (s sessionState) equal(o sessionState) bool {
	return s.token == o.token &&
		s.loading == o.loading &&
		(s.user == nil) == (o.user == nil) &&
		bytes.Equal(s.user, o.user)
}

func (s sessionState) snapshot() Session {
	return Session{
		User:          s.user.clone(),
		Token:         s.token,
		Loading:       s.loading,
		Authenticated: s.user != nil,
		Subject:       s.subject,
		ExpiresAt:     s.expiresAt,
	}
}

type subscriber struct {
	id uuid.UUID
	fn func(Session)
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.snapshot()
}

// User returns the current user record, or nil.
func (m *Manager) User() UserRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.user.clone()
}

// Token returns the in-memory access token.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.token
}

// Loading reports whether Initialize has not resolved yet.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.loading
}

// IsAuthenticated reports whether a user record is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.user != nil
}

// Subscribe registers fn and immediately delivers the current snapshot to
// it. fn then receives a snapshot after every state change, serially and in
// change order. fn must not call Login, Register, Logout, Initialize or
// FetchCurrentUser synchronously. The returned func unsubscribes and is
// idempotent.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	id := uuid.New()
	m.mu.Lock()
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	snap := m.state.snapshot()
	m.mu.Unlock()

	fn(snap)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// update applies mutate and, if the state changed, delivers the new
// snapshot to every subscriber before returning. Updates are serialized.
func (m *Manager) update(mutate func(*sessionState)) Session {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	before := m.state
	mutate(&m.state)
	changed := !before.equal(m.state)
	snap := m.state.snapshot()
	subs := make([]subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	if changed {
		for _, s := range subs {
			s.fn(snap)
		}
	}
	return snap
}
