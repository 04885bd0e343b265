package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/password"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Endpoint names one route for [Server.Calls].
type Endpoint string

const (
	EndpointRegister Endpoint = "register"
	EndpointLogin    Endpoint = "login"
	EndpointRefresh  Endpoint = "refresh"
	EndpointMe       Endpoint = "me"
)

var (
	// ErrEmailTaken is returned by AddUser for a registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnknownUser is returned by IssueTokens for an unregistered email.
	ErrUnknownUser = errors.New("unknown user")
)

// User is the record returned by the API.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type account struct {
	user User
	hash string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

// Options configures a Server. Zero values select defaults.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefreshTokens makes refresh issue a new refresh token instead of
	// echoing the one received.
	RotateRefreshTokens bool
	// BcryptCost defaults to bcrypt.MinCost.
	BcryptCost int
}

// Server is an httptest-backed auth API.
type Server struct {
	*httptest.Server

	opts   Options
	tokens *jwt.Manager
	hasher *password.Bcrypt

	mu       sync.Mutex
	accounts map[string]*account // by email
	byID     map[string]*account

	generation  atomic.Uint64
	failRefresh atomic.Bool
	calls       sync.Map // Endpoint -> *atomic.Int64

	holdMu sync.Mutex
	hold   chan struct{}
}

// NewServer starts a server. Close it with Server.Close.
func NewServer(opts Options) (*Server, error) {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     opts.AccessTTL,
		RefreshTTL:    opts.RefreshTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(uuid.NewString()),
		Issuer:        "authtest",
	})
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewBcrypt(opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		tokens:   tokens,
		hasher:   hasher,
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	s.Server = httptest.NewServer(mux)
	return s, nil
}

// Calls returns the number of requests received by endpoint.
func (s *Server) Calls(endpoint Endpoint) int64 {
	return s.counter(endpoint).Load()
}

// ExpireAccessTokens makes every access token issued so far fail with 401.
func (s *Server) ExpireAccessTokens() {
	s.generation.Add(1)
}

// FailRefresh toggles 401 responses from the refresh endpoint.
func (s *Server) FailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

// HoldRefresh blocks refresh requests until the returned func is called.
// Calls are counted before blocking.
func (s *Server) HoldRefresh() (release func()) {
	ch := make(chan struct{})
	s.holdMu.Lock()
	s.hold = ch
	s.holdMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.holdMu.Lock()
			s.hold = nil
			s.holdMu.Unlock()
			close(ch)
		})
	}
}

// AddUser registers an account directly.
func (s *Server) AddUser(name, email, pw string) (User, error) {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return User{}, err
	}

	email = normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[email]; ok {
		return User{}, ErrEmailTaken
	}
	acc := &account{
		user: User{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     email,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
		hash: hash,
	}
	s.accounts[email] = acc
	s.byID[acc.user.ID] = acc
	return acc.user, nil
}

// IssueTokens returns a fresh token pair for a registered email without a
// login call.
func (s *Server) IssueTokens(email string) (access, refresh string, err error) {
	s.mu.Lock()
	acc, ok := s.accounts[normalizeEmail(email)]
	s.mu.Unlock()
	if !ok {
		return "", "", ErrUnknownUser
	}

	body, err := s.issue(acc.user, "")
	if err != nil {
		return "", "", err
	}
	return body.AccessToken, body.RefreshToken, nil
}

func (s *Server) counter(endpoint Endpoint) *atomic.Int64 {
	v, _ := s.calls.LoadOrStore(endpoint, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (s *Server) issue(user User, refresh string) (tokenResponse, error) {
	access, err := s.tokens.CreateAccess(user.ID, s.generation.Load())
	if err != nil {
		return tokenResponse{}, err
	}
	if refresh == "" || s.opts.RotateRefreshTokens {
		refresh, err = s.tokens.CreateRefresh(user.ID)
		if err != nil {
			return tokenResponse{}, err
		}
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		User:         user,
	}, nil
}

func (s *Server) lookupID(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return acc.user, true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
