package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sondrele/tibber-data-poller/internal/api"
	"github.com/sondrele/tibber-data-poller/internal/auth"
	"github.com/sondrele/tibber-data-poller/internal/metrics"
	"github.com/sondrele/tibber-data-poller/pkg/model"
)

// State is the coordinator's externally visible lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRefreshingToken
	StateFetching
	StateMapping
	StatePublished
	StateFailed
	// StateNeedsReauth is terminal: the refresh token is dead and polling
	// cannot resume until the account is re-authorized.
	StateNeedsReauth
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshingToken:
		return "refreshing_token"
	case StateFetching:
		return "fetching"
	case StateMapping:
		return "mapping"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	case StateNeedsReauth:
		return "needs_reauth"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNeedsReauth is returned once the coordinator has entered the
// terminal re-authorization state.
var ErrNeedsReauth = errors.New("refresh token expired, re-authorization required")

// DataAPI is the slice of the API client the coordinator fetches through.
type DataAPI interface {
	Homes(ctx context.Context) ([]api.HomePayload, error)
	HomeDevices(ctx context.Context, homeID string) ([]api.DevicePayload, error)
	DeviceDetails(ctx context.Context, homeID, deviceID string) (api.DevicePayload, error)
}

// TokenKeeper is the slice of the auth store the coordinator mutates.
type TokenKeeper interface {
	Session() model.TokenSession
	NeedsRefresh(now time.Time) bool
	Commit(session model.TokenSession) error
}

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	Refresh(ctx context.Context, session model.TokenSession) (model.TokenSession, error)
}

// Coordinator drives the poll loop: token upkeep, the homes-with-devices
// composite fetch, mapping, and snapshot publication. One cycle runs at a
// time; the published snapshot is only ever replaced wholesale, so a
// failed cycle leaves the previous data untouched.
type Coordinator struct {
	client   DataAPI
	tokens   TokenKeeper
	refresh  Refresher
	mapper   *Mapper
	interval time.Duration
	logger   zerolog.Logger

	mu           sync.RWMutex
	state        State
	snapshot     *model.Snapshot
	lastErr      error
	cycles       uint64
	failedCycles uint64
}

// NewCoordinator wires a coordinator. Interval is the poll period used by
// Run; RunCycle ignores it.
func NewCoordinator(client DataAPI, tokens TokenKeeper, refresh Refresher, mapper *Mapper, interval time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		client:   client,
		tokens:   tokens,
		refresh:  refresh,
		mapper:   mapper,
		interval: interval,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		state:    StateIdle,
	}
}

// Run polls until the context is cancelled or the coordinator enters the
// terminal re-auth state. The first cycle runs immediately.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.RunCycle(ctx); errors.Is(err, ErrNeedsReauth) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full poll cycle. Transient and recoverable
// failures return an error with the previous snapshot retained; a dead
// refresh token returns ErrNeedsReauth and stops future cycles.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	if c.State() == StateNeedsReauth {
		return ErrNeedsReauth
	}

	start := time.Now()
	err := c.runCycle(ctx)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	c.cycles++
	if err != nil {
		c.failedCycles++
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		metrics.PollCycles.WithLabelValues(metrics.ResultSuccess).Inc()
	case errors.Is(err, ErrNeedsReauth):
		metrics.PollCycles.WithLabelValues("needs_reauth").Inc()
	default:
		metrics.PollCycles.WithLabelValues(metrics.ResultFailure).Inc()
	}
	return err
}

// Stats returns the total and failed cycle counts since startup.
func (c *Coordinator) Stats() (cycles, failed uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycles, c.failedCycles
}

func (c *Coordinator) runCycle(ctx context.Context) error {
	if c.tokens.NeedsRefresh(time.Now()) {
		c.setState(StateRefreshingToken)
		if err := c.refreshToken(ctx); err != nil {
			return err
		}
	}

	c.setState(StateFetching)
	payloads, err := c.fetchAll(ctx)
	if api.IsAuthInvalid(err) {
		// The token went bad between the upfront check and the fetch.
		// One refresh, one full retry, then give up for this cycle.
		c.logger.Warn().Msg("token rejected mid-cycle, refreshing and retrying once")
		c.setState(StateRefreshingToken)
		if refreshErr := c.refreshToken(ctx); refreshErr != nil {
			return refreshErr
		}
		c.setState(StateFetching)
		payloads, err = c.fetchAll(ctx)
	}
	if err != nil {
		c.fail(err)
		return err
	}

	c.setState(StateMapping)
	snapshot, err := c.assemble(payloads)
	if err != nil {
		c.fail(err)
		return err
	}

	c.publish(snapshot)
	return nil
}

// UpdateDevice refreshes a single device entry in place, leaving the rest
// of the snapshot untouched. It requires a previously published snapshot
// containing the device.
func (c *Coordinator) UpdateDevice(ctx context.Context, deviceID string) error {
	current := c.Snapshot()
	if current == nil {
		return fmt.Errorf("no snapshot published yet")
	}
	existing, ok := current.Devices[deviceID]
	if !ok {
		return fmt.Errorf("unknown device %s", deviceID)
	}

	if c.tokens.NeedsRefresh(time.Now()) {
		if err := c.refreshToken(ctx); err != nil {
			return err
		}
	}

	payload, err := c.client.DeviceDetails(ctx, existing.HomeID, deviceID)
	if api.IsAuthInvalid(err) {
		if refreshErr := c.refreshToken(ctx); refreshErr != nil {
			return refreshErr
		}
		payload, err = c.client.DeviceDetails(ctx, existing.HomeID, deviceID)
	}
	if err != nil {
		c.fail(err)
		return err
	}

	device, skipped, err := c.mapper.MapDevice(payload, existing.HomeID)
	if err != nil {
		c.fail(err)
		return err
	}
	if skipped {
		return fmt.Errorf("device %s resolved to a test fixture", deviceID)
	}

	updated, err := current.WithDevice(device)
	if err != nil {
		c.fail(err)
		return err
	}
	c.publish(updated)
	return nil
}

// Snapshot returns the last published snapshot, or nil before the first
// successful cycle. Failed cycles never change the returned value.
func (c *Coordinator) Snapshot() *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the most recent cycle failure, or nil after a
// successful cycle.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// refreshToken performs one refresh and commits the result before any
// dependent request is issued. A fatal refresh failure flips the
// coordinator into the terminal re-auth state.
func (c *Coordinator) refreshToken(ctx context.Context) error {
	session, err := c.refresh.Refresh(ctx, c.tokens.Session())
	if err != nil {
		if auth.IsFatalRefresh(err) {
			c.logger.Error().Err(err).Msg("refresh token no longer usable")
			c.mu.Lock()
			c.state = StateNeedsReauth
			c.lastErr = err
			c.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrNeedsReauth, err)
		}
		c.fail(fmt.Errorf("token refresh failed: %w", err))
		return fmt.Errorf("token refresh failed: %w", err)
	}

	if err := c.tokens.Commit(session); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

type fetchedHome struct {
	home    api.HomePayload
	devices []api.DevicePayload
}

// fetchAll runs the homes-with-devices composite fetch: homes, then each
// home's device list, then full details per device.
func (c *Coordinator) fetchAll(ctx context.Context) ([]fetchedHome, error) {
	homes, err := c.client.Homes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching homes: %w", err)
	}

	result := make([]fetchedHome, 0, len(homes))
	for _, home := range homes {
		listed, err := c.client.HomeDevices(ctx, home.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching devices for home %s: %w", home.ID, err)
		}

		devices := make([]api.DevicePayload, 0, len(listed))
		for _, device := range listed {
			detail, err := c.client.DeviceDetails(ctx, home.ID, device.ID)
			if err != nil {
				return nil, fmt.Errorf("fetching device %s: %w", device.ID, err)
			}
			devices = append(devices, detail)
		}
		result = append(result, fetchedHome{home: home, devices: devices})
	}
	return result, nil
}

// assemble maps all fetched payloads into a new snapshot. A device whose
// payload fails to map is logged and skipped; a home that fails to map
// aborts the cycle since its devices would dangle.
func (c *Coordinator) assemble(fetched []fetchedHome) (*model.Snapshot, error) {
	homes := make([]model.Home, 0, len(fetched))
	var devices []model.Device

	for _, entry := range fetched {
		home, err := c.mapper.MapHome(entry.home)
		if err != nil {
			return nil, err
		}
		homes = append(homes, home)

		for _, payload := range entry.devices {
			device, skipped, err := c.mapper.MapDevice(payload, home.HomeID)
			if err != nil {
				var mapErr *MappingError
				if errors.As(err, &mapErr) {
					metrics.DevicesSkipped.Inc()
					c.logger.Warn().Err(err).Str("device_id", mapErr.DeviceID).Msg("skipping unmappable device")
					continue
				}
				return nil, err
			}
			if skipped {
				c.logger.Debug().Str("device_id", payload.ID).Msg("dropping test fixture device")
				continue
			}
			devices = append(devices, device)
		}
	}

	return model.NewSnapshot(homes, devices, time.Now().UTC())
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("poll cycle failed, snapshot retained")
}

func (c *Coordinator) publish(snapshot *model.Snapshot) {
	c.mu.Lock()
	c.snapshot = snapshot
	c.state = StatePublished
	c.lastErr = nil
	c.mu.Unlock()

	metrics.SnapshotHomes.Set(float64(len(snapshot.Homes)))
	metrics.SnapshotDevices.Set(float64(len(snapshot.Devices)))
	c.logger.Info().
		Int("homes", len(snapshot.Homes)).
		Int("devices", len(snapshot.Devices)).
		Msg("snapshot published")
}
