package credential

// Credentials is the persisted token pair of one client session.
//
// The zero value means "no session". SavedAt is the unix second of the last
// successful Save and is informational only.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SavedAt      int64  `json:"saved_at,omitempty"`
}

// Empty reports whether no access token is held.
func (c Credentials) Empty() bool {
	return c.AccessToken == ""
}

// HasRefresh reports whether a refresh token is available for exchange.
func (c Credentials) HasRefresh() bool {
	return c.RefreshToken != ""
}
