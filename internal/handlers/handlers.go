// Package handlers exposes the published snapshot over a small read-only
// HTTP API for the host platform's display layer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sondrele/tibber-data-poller/internal/api"
	"github.com/sondrele/tibber-data-poller/internal/core"
	"github.com/sondrele/tibber-data-poller/pkg/model"
)

// Response represents a standard API response
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

// HistoryAPI is the slice of the API client used for on-demand history
// queries; everything else is served from the snapshot.
type HistoryAPI interface {
	DeviceHistory(ctx context.Context, homeID, deviceID string, from, to time.Time, resolution api.Resolution) ([]api.HistoryEntry, error)
}

// SessionInfo exposes the current token session for diagnostics. Only
// expiry metadata is ever rendered, never token values.
type SessionInfo interface {
	Session() model.TokenSession
}

// Server serves read-only views of the coordinator's published snapshot.
type Server struct {
	coordinator *core.Coordinator
	history     HistoryAPI
	tokens      SessionInfo
	logger      zerolog.Logger
}

// NewServer creates the snapshot API server.
func NewServer(coordinator *core.Coordinator, history HistoryAPI, tokens SessionInfo, logger zerolog.Logger) *Server {
	return &Server{
		coordinator: coordinator,
		history:     history,
		tokens:      tokens,
		logger:      logger.With().Str("component", "handlers").Logger(),
	}
}

// RegisterRoutes registers all HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/homes", s.handleHomes)
	mux.HandleFunc("GET /api/v1/homes/{homeID}/devices", s.handleHomeDevices)
	mux.HandleFunc("GET /api/v1/devices", s.handleDevices)
	mux.HandleFunc("GET /api/v1/devices/{deviceID}", s.handleDevice)
	mux.HandleFunc("GET /api/v1/devices/{deviceID}/history", s.handleDeviceHistory)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
}

func (s *Server) handleHomes(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	homes := make([]model.Home, 0, len(snapshot.Homes))
	for _, home := range snapshot.Homes {
		homes = append(homes, home)
	}
	sendJSONResponse(w, http.StatusOK, Response{
		Success:   true,
		Data:      homes,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
	})
}

func (s *Server) handleHomeDevices(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	homeID := r.PathValue("homeID")
	if _, exists := snapshot.Homes[homeID]; !exists {
		sendErrorResponse(w, http.StatusNotFound, "home not found", r.URL.Path)
		return
	}

	sendJSONResponse(w, http.StatusOK, Response{
		Success:   true,
		Data:      snapshot.DevicesForHome(homeID),
		Timestamp: time.Now(),
		Path:      r.URL.Path,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	devices := make([]model.Device, 0, len(snapshot.Devices))
	for _, device := range snapshot.Devices {
		devices = append(devices, device)
	}
	sendJSONResponse(w, http.StatusOK, Response{
		Success:   true,
		Data:      devices,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	device, exists := snapshot.Devices[r.PathValue("deviceID")]
	if !exists {
		sendErrorResponse(w, http.StatusNotFound, "device not found", r.URL.Path)
		return
	}

	sendJSONResponse(w, http.StatusOK, Response{
		Success:   true,
		Data:      device,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
	})
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	device, exists := snapshot.Devices[r.PathValue("deviceID")]
	if !exists {
		sendErrorResponse(w, http.StatusNotFound, "device not found", r.URL.Path)
		return
	}

	query := r.URL.Query()
	from, err := time.Parse(time.RFC3339, query.Get("from"))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp", r.URL.Path)
		return
	}
	to, err := time.Parse(time.RFC3339, query.Get("to"))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp", r.URL.Path)
		return
	}
	resolution := api.Resolution(query.Get("resolution"))
	if resolution == "" {
		resolution = api.ResolutionHourly
	}

	entries, err := s.history.DeviceHistory(r.Context(), device.HomeID, device.DeviceID, from, to, resolution)
	if err != nil {
		if api.IsValidation(err) {
			sendErrorResponse(w, http.StatusBadRequest, err.Error(), r.URL.Path)
			return
		}
		var apiErr *api.Error
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			sendErrorResponse(w, http.StatusBadGateway, apiErr.Message, r.URL.Path)
			return
		}
		s.logger.Error().Err(err).Msg("history query failed")
		sendErrorResponse(w, http.StatusServiceUnavailable, "history temporarily unavailable", r.URL.Path)
		return
	}

	sendJSONResponse(w, http.StatusOK, Response{
		Success:   true,
		Data:      entries,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cycles, failed := s.coordinator.Stats()
	status := map[string]any{
		"state":         s.coordinator.State().String(),
		"cycles_total":  cycles,
		"cycles_failed": failed,
	}
	if err := s.coordinator.LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	if snapshot := s.coordinator.Snapshot(); snapshot != nil {
		status["homes"] = len(snapshot.Homes)
		status["devices"] = len(snapshot.Devices)
		status["fetched_at"] = snapshot.FetchedAt.Format(time.RFC3339)
	}
	if session := s.tokens.Session(); session.ExpiresAt != 0 {
		status["token_expires_at"] = time.Unix(session.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}

	sendJSONResponse(w, http.StatusOK, Response{
		Success:   true,
		Data:      status,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
	})
}

// snapshot fetches the published snapshot, answering 503 when no cycle
// has succeeded yet.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*model.Snapshot, bool) {
	snapshot := s.coordinator.Snapshot()
	if snapshot == nil {
		sendErrorResponse(w, http.StatusServiceUnavailable, "no snapshot published yet", r.URL.Path)
		return nil, false
	}
	return snapshot, true
}

// sendJSONResponse sends a JSON response with the given status code and data
func sendJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sendErrorResponse sends an error response with the given status code and message
func sendErrorResponse(w http.ResponseWriter, statusCode int, message, path string) {
	sendJSONResponse(w, statusCode, ErrorResponse{
		Success:   false,
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now(),
		Path:      path,
	})
}
