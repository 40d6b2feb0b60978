package model

import (
	"fmt"
	"time"
)

// DefaultRefreshThreshold is how long before expiry an access token is
// considered due for refresh. Provider access tokens last about an hour.
const DefaultRefreshThreshold = 5 * time.Minute

// MinimumScopes are the scopes a session must carry to be able to read
// homes and devices from the data API.
var MinimumScopes = []string{"data-api-user-read", "data-api-homes-read"}

// TokenSession holds the OAuth2 token pair for one authenticated account.
// It is created once at setup, mutated in place by token refresh, and
// serialized as an opaque blob for persistence across restarts.
type TokenSession struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	TokenType     string    `json:"token_type"`
	ExpiresAt     int64     `json:"expires_at"` // epoch seconds, 0 = never
	Scopes        []string  `json:"scopes"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshed time.Time `json:"last_refreshed,omitzero"`
}

// NewTokenSession creates a validated session. The access token must be
// non-empty and the granted scopes must cover MinimumScopes.
func NewTokenSession(accessToken, refreshToken string, expiresAt int64, scopes []string) (*TokenSession, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	if missing := missingScopes(scopes); len(missing) > 0 {
		return nil, fmt.Errorf("missing required scopes: %v", missing)
	}

	return &TokenSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		Scopes:       scopes,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Validate re-checks the session invariants, used after deserializing a
// persisted blob.
func (s *TokenSession) Validate() error {
	if s.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if s.RefreshToken == "" {
		return fmt.Errorf("refresh token is required")
	}
	if s.TokenType != "Bearer" {
		return fmt.Errorf("only Bearer token type is supported, got %q", s.TokenType)
	}
	if missing := missingScopes(s.Scopes); len(missing) > 0 {
		return fmt.Errorf("missing required scopes: %v", missing)
	}
	return nil
}

// NeedsRefresh reports whether the access token is within threshold of
// expiry. A zero ExpiresAt means the token never expires.
func (s *TokenSession) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= s.ExpiresAt-int64(threshold.Seconds())
}

// Expired reports whether the access token is past its expiry.
func (s *TokenSession) Expired(now time.Time) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= s.ExpiresAt
}

// Update applies the fields of a token refresh response. The refresh token
// may be rotated by the provider; when the response omits it the old one is
// retained. Scopes are replaced only when the response returned them.
func (s *TokenSession) Update(accessToken, refreshToken string, expiresIn int64, scopes []string, now time.Time) {
	s.AccessToken = accessToken
	if refreshToken != "" {
		s.RefreshToken = refreshToken
	}
	s.ExpiresAt = now.Unix() + expiresIn
	s.LastRefreshed = now.UTC()
	if scopes != nil {
		s.Scopes = scopes
	}
}

func missingScopes(scopes []string) []string {
	granted := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		granted[s] = true
	}

	var missing []string
	for _, required := range MinimumScopes {
		if !granted[required] {
			missing = append(missing, required)
		}
	}
	return missing
}
