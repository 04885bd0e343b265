package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/goSession/jwt"
)

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// decodeBody decodes r's JSON body into dst. It writes a 422 and returns
// false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []fieldError{{Loc: []string{"body"}, Msg: "invalid JSON body", Type: "json_invalid"}},
		})
		return false
	}
	return true
}

// decodeRequired writes a 422 listing every blank field and returns false
// when there is one.
func decodeRequired(w http.ResponseWriter, fields map[string]string) bool {
	var missing []fieldError
	for _, name := range []string{"name", "email", "password", "refresh_token"} {
		value, ok := fields[name]
		if ok && strings.TrimSpace(value) == "" {
			missing = append(missing, fieldError{Loc: []string{"body", name}, Msg: "Field required", Type: "missing"})
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": missing})
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.counter(EndpointRegister).Add(1)

	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !decodeRequired(w, map[string]string{"name": req.Name, "email": req.Email, "password": req.Password}) {
		return
	}

	user, err := s.AddUser(req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, ErrEmailTaken):
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	case err != nil:
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	body, err := s.issue(user, "")
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.counter(EndpointLogin).Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !decodeRequired(w, map[string]string{"email": req.Email, "password": req.Password}) {
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[normalizeEmail(req.Email)]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if match, err := s.hasher.Verify(req.Password, acc.hash); err != nil || !match {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	body, err := s.issue(acc.user, "")
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.counter(EndpointRefresh).Add(1)

	s.holdMu.Lock()
	hold := s.hold
	s.holdMu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !decodeRequired(w, map[string]string{"refresh_token": req.RefreshToken}) {
		return
	}

	if s.failRefresh.Load() {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	claims, err := s.tokens.Parse(req.RefreshToken, jwt.TokenRefresh)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	user, ok := s.lookupID(claims.Subject)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "User not found")
		return
	}

	body, err := s.issue(user, req.RefreshToken)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.counter(EndpointMe).Add(1)

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		writeDetail(w, http.StatusForbidden, "Not authenticated")
		return
	}

	claims, err := s.tokens.Parse(strings.TrimSpace(token), jwt.TokenAccess)
	if err != nil || claims.Generation < s.generation.Load() {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	user, ok := s.lookupID(claims.Subject)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
