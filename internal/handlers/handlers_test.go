package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondrele/tibber-data-poller/internal/api"
	"github.com/sondrele/tibber-data-poller/internal/core"
	"github.com/sondrele/tibber-data-poller/pkg/model"
)

const (
	testHomeID   = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	testDeviceID = "8b3e1b6c-2f64-4f39-9ad8-2f1d6a1f0c55"
)

type snapshotAPI struct {
	homes   []api.HomePayload
	devices map[string][]api.DevicePayload
	entries []api.HistoryEntry
	histErr error
}

func (f *snapshotAPI) Homes(ctx context.Context) ([]api.HomePayload, error) {
	return f.homes, nil
}

func (f *snapshotAPI) HomeDevices(ctx context.Context, homeID string) ([]api.DevicePayload, error) {
	return f.devices[homeID], nil
}

func (f *snapshotAPI) DeviceDetails(ctx context.Context, homeID, deviceID string) (api.DevicePayload, error) {
	for _, p := range f.devices[homeID] {
		if p.ID == deviceID {
			return p, nil
		}
	}
	return api.DevicePayload{}, &api.Error{Kind: api.KindNotFoundDevice, StatusCode: 404}
}

func (f *snapshotAPI) DeviceHistory(ctx context.Context, homeID, deviceID string, from, to time.Time, resolution api.Resolution) ([]api.HistoryEntry, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.entries, nil
}

type staticTokens struct{ session model.TokenSession }

func (s *staticTokens) Session() model.TokenSession     { return s.session }
func (s *staticTokens) NeedsRefresh(now time.Time) bool { return false }
func (s *staticTokens) Commit(model.TokenSession) error { return nil }

type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context, session model.TokenSession) (model.TokenSession, error) {
	return session, nil
}

func newTestServer(t *testing.T, client *snapshotAPI, published bool) *http.ServeMux {
	t.Helper()

	session, err := model.NewTokenSession("access", "refresh", time.Now().Add(time.Hour).Unix(),
		[]string{"data-api-user-read", "data-api-homes-read"})
	require.NoError(t, err)

	tokens := &staticTokens{session: *session}
	coordinator := core.NewCoordinator(client, tokens, noRefresh{},
		core.NewMapper(true), time.Minute, zerolog.Nop())
	if published {
		require.NoError(t, coordinator.RunCycle(context.Background()))
	}

	mux := http.NewServeMux()
	NewServer(coordinator, client, tokens, zerolog.Nop()).RegisterRoutes(mux)
	return mux
}

func populatedAPI() *snapshotAPI {
	home := api.HomePayload{ID: testHomeID}
	home.Info.Name = "Cabin"

	device := api.DevicePayload{ID: testDeviceID}
	device.Info.Name = "Charger"

	return &snapshotAPI{
		homes:   []api.HomePayload{home},
		devices: map[string][]api.DevicePayload{testHomeID: {device}},
	}
}

func get(t *testing.T, mux *http.ServeMux, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))

	var body Response
	if recorder.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	}
	return recorder, body
}

func TestHomesEndpoint(t *testing.T) {
	mux := newTestServer(t, populatedAPI(), true)

	recorder, body := get(t, mux, "/api/v1/homes")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, body.Success)

	raw, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var homes []model.Home
	require.NoError(t, json.Unmarshal(raw, &homes))
	require.Len(t, homes, 1)
	assert.Equal(t, "Cabin", homes[0].DisplayName)
}

func TestDeviceEndpoints(t *testing.T) {
	mux := newTestServer(t, populatedAPI(), true)

	recorder, _ := get(t, mux, "/api/v1/devices")
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder, _ = get(t, mux, "/api/v1/devices/"+testDeviceID)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder, _ = get(t, mux, "/api/v1/devices/unknown")
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder, _ = get(t, mux, "/api/v1/homes/"+testHomeID+"/devices")
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder, _ = get(t, mux, "/api/v1/homes/unknown/devices")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestNoSnapshotYields503(t *testing.T) {
	mux := newTestServer(t, populatedAPI(), false)

	recorder, _ := get(t, mux, "/api/v1/homes")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestStatusEndpoint(t *testing.T) {
	mux := newTestServer(t, populatedAPI(), true)

	recorder, body := get(t, mux, "/api/v1/status")
	assert.Equal(t, http.StatusOK, recorder.Code)

	status, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "published", status["state"])
	assert.Equal(t, float64(1), status["devices"])
	assert.Equal(t, float64(1), status["cycles_total"])
	assert.Equal(t, float64(0), status["cycles_failed"])
	assert.NotEmpty(t, status["token_expires_at"])
}

func TestHistoryEndpoint(t *testing.T) {
	client := populatedAPI()
	client.entries = []api.HistoryEntry{{Timestamp: "2025-09-18T08:00:00Z", Capabilities: map[string]any{"power": 1500.0}}}
	mux := newTestServer(t, client, true)

	recorder, body := get(t, mux,
		"/api/v1/devices/"+testDeviceID+"/history?from=2025-09-18T00:00:00Z&to=2025-09-19T00:00:00Z")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotNil(t, body.Data)
}

func TestHistoryEndpointRejectsBadRange(t *testing.T) {
	client := populatedAPI()
	client.histErr = &api.ValidationError{Param: "from", Reason: "must be strictly before to"}
	mux := newTestServer(t, client, true)

	recorder, _ := get(t, mux,
		"/api/v1/devices/"+testDeviceID+"/history?from=2025-09-19T00:00:00Z&to=2025-09-18T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, _ = get(t, mux, "/api/v1/devices/"+testDeviceID+"/history?from=notatime&to=2025-09-18T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHistoryEndpointTransientFailure(t *testing.T) {
	client := populatedAPI()
	client.histErr = &api.Error{Kind: api.KindServerError, StatusCode: 503, Attempts: 5}
	mux := newTestServer(t, client, true)

	recorder, _ := get(t, mux,
		"/api/v1/devices/"+testDeviceID+"/history?from=2025-09-18T00:00:00Z&to=2025-09-19T00:00:00Z")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}
