package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/sondrele/tibber-data-poller/internal/metrics"
	"github.com/sondrele/tibber-data-poller/pkg/model"
)

const (
	defaultAuthorizeURL = "https://thewall.tibber.com/connect/authorize"
	defaultTokenURL     = "https://thewall.tibber.com/connect/token"

	tokenRequestTimeout = 15 * time.Second
)

// KnownScopes is the full catalogue the authorization server publishes.
// Requested scopes are validated against it before building an authorize
// URL so a typo fails at setup instead of during consent.
var KnownScopes = []string{
	"openid",
	"profile",
	"email",
	"offline_access",
	"data-api-user-read",
	"data-api-homes-read",
	"data-api-device-categories-read",
}

// RefreshError describes a failed token endpoint call. Fatal means the
// refresh token itself was rejected and the user has to re-authorize;
// anything else is worth retrying on the next cycle.
type RefreshError struct {
	Fatal      bool
	StatusCode int
	Message    string
}

func (e *RefreshError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("refresh token rejected (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token refresh failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsFatalRefresh reports whether err is a refresh failure that cannot be
// recovered without re-authorization.
func IsFatalRefresh(err error) bool {
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr) && refreshErr.Fatal
}

// OAuthConfig holds the endpoints and client identity for token requests.
type OAuthConfig struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
}

// OAuthClient issues token endpoint requests. The authorize URL and PKCE
// material go through golang.org/x/oauth2; the token POSTs are issued
// directly because the error body has to be inspected to tell a dead
// refresh token from a flaky server.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOAuthClient creates a token endpoint client. Empty endpoint URLs fall
// back to the provider defaults.
func NewOAuthClient(cfg OAuthConfig, logger zerolog.Logger) (*OAuthClient, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}

	return &OAuthClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: tokenRequestTimeout},
		logger:     logger.With().Str("component", "oauth").Logger(),
	}, nil
}

// AuthorizeURL builds the consent URL for the authorization-code flow with
// an S256 PKCE challenge derived from verifier.
func (c *OAuthClient) AuthorizeURL(redirectURI, state, verifier string, scopes []string) (string, error) {
	if redirectURI == "" {
		return "", fmt.Errorf("redirect URI is required")
	}
	if err := validateScopes(scopes); err != nil {
		return "", err
	}

	conf := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.AuthorizeURL,
			TokenURL: c.cfg.TokenURL,
		},
	}
	return conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// ExchangeCode redeems an authorization code for the initial token
// session.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (model.TokenSession, error) {
	if code == "" {
		return model.TokenSession{}, fmt.Errorf("authorization code is required")
	}
	if redirectURI == "" {
		return model.TokenSession{}, fmt.Errorf("redirect URI is required")
	}
	if verifier == "" {
		return model.TokenSession{}, fmt.Errorf("PKCE verifier is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	resp, err := c.post(ctx, form)
	if err != nil {
		return model.TokenSession{}, err
	}

	session, err := model.NewTokenSession(
		resp.AccessToken,
		resp.RefreshToken,
		time.Now().Unix()+resp.ExpiresIn,
		splitScopes(resp.Scope),
	)
	if err != nil {
		return model.TokenSession{}, fmt.Errorf("token response incomplete: %w", err)
	}
	return *session, nil
}

// Refresh exchanges the session's refresh token for a new token pair and
// returns the updated session. The input session is not mutated; callers
// commit the result through the store.
func (c *OAuthClient) Refresh(ctx context.Context, session model.TokenSession) (model.TokenSession, error) {
	if session.RefreshToken == "" {
		return model.TokenSession{}, &RefreshError{Fatal: true, Message: "no refresh token in session"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("refresh_token", session.RefreshToken)

	resp, err := c.post(ctx, form)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultFailure).Inc()
		if IsFatalRefresh(err) {
			metrics.TokenValid.Set(0)
		}
		return model.TokenSession{}, err
	}

	session.Update(resp.AccessToken, resp.RefreshToken, resp.ExpiresIn, splitScopes(resp.Scope), time.Now())
	if err := session.Validate(); err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultFailure).Inc()
		return model.TokenSession{}, fmt.Errorf("refreshed session invalid: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	c.logger.Info().Int64("expires_in", resp.ExpiresIn).Msg("token refreshed")
	return session, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// post issues one token endpoint request and classifies failures. A 400 or
// 401 carrying invalid_grant, or any error text mentioning an expired or
// invalid token, means the refresh token is dead.
func (c *OAuthClient) post(ctx context.Context, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return tokenResponse{}, ctx.Err()
		}
		return tokenResponse{}, &RefreshError{Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, &RefreshError{StatusCode: resp.StatusCode, Message: "reading token response"}
	}

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, classifyTokenError(resp.StatusCode, body)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}
	return tokens, nil
}

func classifyTokenError(status int, body []byte) *RefreshError {
	var errResp tokenErrorResponse
	_ = json.Unmarshal(body, &errResp)

	message := errResp.ErrorDescription
	if message == "" {
		message = errResp.Error
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	lower := strings.ToLower(errResp.Error + " " + message)
	fatal := false
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		fatal = errResp.Error == "invalid_grant" ||
			strings.Contains(lower, "expired") ||
			strings.Contains(lower, "invalid token") ||
			status == http.StatusUnauthorized
	}

	return &RefreshError{Fatal: fatal, StatusCode: status, Message: message}
}

func validateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	known := make(map[string]bool, len(KnownScopes))
	for _, s := range KnownScopes {
		known[s] = true
	}
	for _, s := range scopes {
		if !known[s] {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	return nil
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

