// Package api implements the authenticated client for the provider's data
// API: one logical call per method, with bounded retry and full-jitter
// backoff over transient failures.
package api

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sondrele/tibber-data-poller/internal/metrics"
	"github.com/sondrele/tibber-data-poller/pkg/retry"
)

const (
	defaultBaseURL = "https://data-api.tibber.com"
	defaultTimeout = 30 * time.Second
)

// Resolution selects the aggregation level of a device history query.
type Resolution string

const (
	ResolutionHourly Resolution = "HOURLY"
	ResolutionDaily  Resolution = "DAILY"
)

func (r Resolution) validate() error {
	switch r {
	case ResolutionHourly, ResolutionDaily:
		return nil
	default:
		return &ValidationError{Param: "resolution", Reason: fmt.Sprintf("must be HOURLY or DAILY, got %q", r)}
	}
}

// TokenProvider supplies the current bearer token for outgoing requests.
// The coordinator commits refreshed tokens before issuing dependent
// requests, so the value read here is always the latest committed one.
type TokenProvider interface {
	AccessToken() string
}

// Config holds client construction parameters.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Config
}

// Client talks to the provider data API.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	retry      retry.Config
	logger     zerolog.Logger
}

// NewClient creates an API client. Zero-valued config fields fall back to
// the provider defaults.
func NewClient(cfg Config, tokens TokenProvider, logger zerolog.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retryCfg,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Homes returns the list of homes visible to the authenticated account.
func (c *Client) Homes(ctx context.Context) ([]HomePayload, error) {
	data, err := c.execute(ctx, http.MethodGet, "/v1/homes", nil)
	if err != nil {
		return nil, err
	}

	var homes []HomePayload
	if err := json.Unmarshal(data, &homes); err != nil {
		return nil, fmt.Errorf("decoding homes response: %w", err)
	}
	return homes, nil
}

// Home returns detailed information for one home.
func (c *Client) Home(ctx context.Context, homeID string) (HomePayload, error) {
	if err := validateHomeID(homeID); err != nil {
		return HomePayload{}, err
	}

	data, err := c.execute(ctx, http.MethodGet, "/v1/homes/"+homeID, nil)
	if err != nil {
		return HomePayload{}, err
	}

	var home HomePayload
	if err := json.Unmarshal(data, &home); err != nil {
		return HomePayload{}, fmt.Errorf("decoding home response: %w", err)
	}
	return home, nil
}

// HomeDevices returns all devices associated with a home.
func (c *Client) HomeDevices(ctx context.Context, homeID string) ([]DevicePayload, error) {
	if err := validateHomeID(homeID); err != nil {
		return nil, err
	}

	data, err := c.execute(ctx, http.MethodGet, "/v1/homes/"+homeID+"/devices", nil)
	if err != nil {
		return nil, err
	}

	var devices []DevicePayload
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("decoding devices response: %w", err)
	}
	return devices, nil
}

// DeviceDetails returns the full detail payload for one device, including
// capabilities and attributes.
func (c *Client) DeviceDetails(ctx context.Context, homeID, deviceID string) (DevicePayload, error) {
	if err := validateHomeID(homeID); err != nil {
		return DevicePayload{}, err
	}
	if deviceID == "" {
		return DevicePayload{}, &ValidationError{Param: "device_id", Reason: "must not be empty"}
	}

	data, err := c.execute(ctx, http.MethodGet, "/v1/homes/"+homeID+"/devices/"+deviceID, nil)
	if err != nil {
		return DevicePayload{}, err
	}

	var device DevicePayload
	if err := json.Unmarshal(data, &device); err != nil {
		return DevicePayload{}, fmt.Errorf("decoding device response: %w", err)
	}
	return device, nil
}

// DeviceHistory returns aggregated capability history for a device. The
// time range and resolution are validated locally before any network call.
func (c *Client) DeviceHistory(ctx context.Context, homeID, deviceID string, from, to time.Time, resolution Resolution) ([]HistoryEntry, error) {
	if err := validateHomeID(homeID); err != nil {
		return nil, err
	}
	if deviceID == "" {
		return nil, &ValidationError{Param: "device_id", Reason: "must not be empty"}
	}
	if err := resolution.validate(); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, &ValidationError{Param: "from", Reason: "must be strictly before to"}
	}

	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))
	query.Set("resolution", string(resolution))

	data, err := c.execute(ctx, http.MethodGet, "/v1/homes/"+homeID+"/devices/"+deviceID+"/history", query)
	if err != nil {
		return nil, err
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding history response: %w", err)
	}
	return entries, nil
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// execute issues one logical authenticated API call. Transient failures
// (429, 5xx, network) are retried up to the configured attempt budget with
// backoff; permanent failures are raised after the first attempt. The loop
// keeps the last transient error so exhaustion surfaces the real cause.
func (c *Client) execute(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	token := c.tokens.AccessToken()
	if token == "" {
		return nil, &ValidationError{Param: "access_token", Reason: "no access token available"}
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var lastErr *Error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		data, retryAfter, err := c.attempt(ctx, method, requestURL, token)
		if err == nil {
			metrics.APIRequests.WithLabelValues(metrics.OutcomeSuccess).Inc()
			return data, nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			// Context cancellation or a malformed body, not classifiable
			return nil, err
		}

		if !apiErr.Transient() {
			apiErr.Attempts = attempt + 1
			metrics.APIRequests.WithLabelValues(metrics.OutcomePermanent).Inc()
			return nil, apiErr
		}

		lastErr = apiErr
		c.logger.Warn().
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_attempts", c.retry.MaxAttempts).
			Str("kind", apiErr.Kind.String()).
			Msg("transient api failure")

		// No sleep after the final attempt
		if attempt < c.retry.MaxAttempts-1 {
			metrics.APIRetries.Inc()
			delay := c.retry.ComputeDelay(attempt, retryAfter)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	lastErr.Attempts = c.retry.MaxAttempts
	metrics.APIRequests.WithLabelValues(metrics.OutcomeExhausted).Inc()
	return nil, lastErr
}

// attempt performs a single HTTP round trip and classifies the result.
// The second return value is the Retry-After header, if any.
func (c *Client) attempt(ctx context.Context, method, requestURL, token string) (json.RawMessage, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		// Connection resets, timeouts, DNS failures: all transient
		return nil, "", &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &Error{Kind: KindNetwork, Message: fmt.Sprintf("reading response body: %v", err)}
	}

	if resp.StatusCode == http.StatusOK {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, "", fmt.Errorf("decoding response body: %w", err)
		}
		if env.Data == nil {
			return nil, "", fmt.Errorf("response missing data field")
		}
		return env.Data, "", nil
	}

	return nil, resp.Header.Get("Retry-After"), classifyStatus(resp.StatusCode, body)
}

// classifyStatus maps a non-200 status to the error taxonomy. The
// distinction between home and device lookups on 404 only exists in the
// server's message text, so that one substring check happens here at the
// boundary and nowhere else.
func classifyStatus(status int, body []byte) *Error {
	message := errorMessage(body)

	switch status {
	case http.StatusBadRequest:
		return &Error{Kind: KindBadRequest, StatusCode: status, Message: orDefault(message, "invalid request")}
	case http.StatusUnauthorized:
		return &Error{Kind: KindAuthInvalid, StatusCode: status, Message: "invalid or expired token"}
	case http.StatusForbidden:
		return &Error{Kind: KindForbidden, StatusCode: status, Message: "insufficient permissions"}
	case http.StatusNotFound:
		lower := strings.ToLower(message)
		switch {
		case strings.Contains(lower, "home"):
			return &Error{Kind: KindNotFoundHome, StatusCode: status, Message: "home not found"}
		case strings.Contains(lower, "device"):
			return &Error{Kind: KindNotFoundDevice, StatusCode: status, Message: "device not found"}
		default:
			return &Error{Kind: KindNotFound, StatusCode: status, Message: orDefault(message, "not found")}
		}
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: status, Message: "rate limit exceeded"}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &Error{Kind: KindServerError, StatusCode: status, Message: orDefault(message, fmt.Sprintf("server error (HTTP %d)", status))}
	default:
		return &Error{Kind: KindUnexpected, StatusCode: status, Message: orDefault(message, fmt.Sprintf("HTTP %d", status))}
	}
}

func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	return env.Message
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// validateHomeID rejects malformed home IDs locally: the API uses
// 5-segment UUIDs and anything else would only waste a round trip.
func validateHomeID(homeID string) error {
	if homeID == "" {
		return &ValidationError{Param: "home_id", Reason: "must not be empty"}
	}
	if len(strings.Split(homeID, "-")) != 5 {
		return &ValidationError{Param: "home_id", Reason: "must be a 5-segment UUID"}
	}
	if _, err := uuid.Parse(homeID); err != nil {
		return &ValidationError{Param: "home_id", Reason: "must be a valid UUID"}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
