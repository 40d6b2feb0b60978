package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondrele/tibber-data-poller/internal/api"
	"github.com/sondrele/tibber-data-poller/pkg/model"
)

const (
	testHomeID   = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	testDeviceID = "8b3e1b6c-2f64-4f39-9ad8-2f1d6a1f0c55"
)

func fixedMapper(now time.Time) *Mapper {
	m := NewMapper(true)
	m.now = func() time.Time { return now }
	return m
}

func homePayload(name string) api.HomePayload {
	p := api.HomePayload{ID: testHomeID}
	p.Info.Name = name
	return p
}

func devicePayload(name string) api.DevicePayload {
	p := api.DevicePayload{ID: testDeviceID}
	p.Info.Name = name
	return p
}

func TestMapHome(t *testing.T) {
	m := fixedMapper(time.Now())

	home, err := m.MapHome(homePayload("Cabin"))
	require.NoError(t, err)
	assert.Equal(t, testHomeID, home.HomeID)
	assert.Equal(t, "Cabin", home.DisplayName)
	assert.Equal(t, "UTC", home.TimeZone, "missing time zone defaults to UTC")
}

func TestMapHomeNameFallbacks(t *testing.T) {
	m := fixedMapper(time.Now())

	p := homePayload("")
	p.DisplayName = "Top Level"
	home, err := m.MapHome(p)
	require.NoError(t, err)
	assert.Equal(t, "Top Level", home.DisplayName)

	home, err = m.MapHome(homePayload(""))
	require.NoError(t, err)
	assert.Equal(t, "Home f47ac10b", home.DisplayName)
}

func TestMapHomeTimeZonePrecedence(t *testing.T) {
	m := fixedMapper(time.Now())

	p := homePayload("Cabin")
	p.TimeZone = "Europe/Berlin"
	p.Info.TimeZone = "Europe/Oslo"
	home, err := m.MapHome(p)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Oslo", home.TimeZone, "info.timeZone wins over the top-level field")
}

func TestMapHomeRejectsMissingID(t *testing.T) {
	m := fixedMapper(time.Now())
	_, err := m.MapHome(api.HomePayload{})
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestMapDeviceBasics(t *testing.T) {
	now := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)
	m := fixedMapper(now)

	p := devicePayload("Charger")
	p.ExternalID = "ext-1"
	p.Info.Manufacturer = "Easee"
	p.Info.Model = "Home"
	p.Status.LastSeen = "2025-09-18T11:59:50Z"
	p.Capabilities = []api.CapabilityPayload{
		{ID: "storage.stateOfCharge", DisplayName: "State of charge", Value: 81.5, Unit: "%", LastUpdated: "2025-09-18T11:58:00Z"},
	}
	p.Attributes = []api.AttributePayload{
		{ID: "firmwareVersion", Value: "1.2.3"},
	}

	device, skipped, err := m.MapDevice(p, testHomeID)
	require.NoError(t, err)
	require.False(t, skipped)

	assert.Equal(t, testDeviceID, device.DeviceID)
	assert.Equal(t, "Charger", device.Name)
	assert.Equal(t, testHomeID, device.HomeID)
	assert.Equal(t, "Easee", device.Manufacturer)
	require.NotNil(t, device.LastSeen)
	assert.True(t, device.Online, "seen ten seconds ago")

	capability := device.GetCapability("storage.stateOfCharge")
	require.NotNil(t, capability)
	assert.Equal(t, model.NumberValue(81.5), capability.Value)
	assert.Equal(t, "%", capability.Unit)

	attribute := device.GetAttribute("firmwareVersion")
	require.NotNil(t, attribute)
	assert.True(t, attribute.IsDiagnostic)
	assert.Equal(t, "string", attribute.DataType)
}

func TestMapDeviceDummyFiltered(t *testing.T) {
	m := fixedMapper(time.Now())

	for _, name := range []string{"Dummy", "dummy", " DUMMY  "} {
		_, skipped, err := m.MapDevice(devicePayload(name), testHomeID)
		require.NoError(t, err)
		assert.True(t, skipped, "%q is a test fixture", name)
	}
}

func TestDeviceNameFallbackChain(t *testing.T) {
	tests := []struct {
		name         string
		infoName     string
		manufacturer string
		model        string
		want         string
	}{
		{"real name kept", "Charger", "Easee", "Home", "Charger"},
		{"empty name", "", "Easee", "Home", "Easee Home"},
		{"no name placeholder", "no name", "Easee", "Home", "Easee Home"},
		{"bracketed placeholder", "<No Name>", "", "Home", "Home"},
		{"manufacturer only", "", "Easee", "", "Easee"},
		{"nothing at all", "", "", "", "Device 8b3e1b6c"},
	}

	m := fixedMapper(time.Now())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := devicePayload(tt.infoName)
			p.Info.Manufacturer = tt.manufacturer
			p.Info.Model = tt.model

			device, skipped, err := m.MapDevice(p, testHomeID)
			require.NoError(t, err)
			require.False(t, skipped)
			assert.Equal(t, tt.want, device.Name)
		})
	}
}

func TestOnlineDerivation(t *testing.T) {
	now := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		lastSeen     string
		attributes   []api.AttributePayload
		assumeOnline bool
		want         bool
	}{
		{"no signal, optimistic default", "", nil, true, true},
		{"no signal, pessimistic default", "", nil, false, false},
		{"seen recently", now.Add(-10 * time.Second).Format(time.RFC3339), nil, true, true},
		{"seen long ago", now.Add(-600 * time.Second).Format(time.RFC3339), nil, true, false},
		{
			"boolean connectivity attribute wins over stale last seen",
			now.Add(-600 * time.Second).Format(time.RFC3339),
			[]api.AttributePayload{{ID: "connectivity.cloud", Value: true}},
			true, true,
		},
		{
			"status token disconnected",
			now.Add(-10 * time.Second).Format(time.RFC3339),
			[]api.AttributePayload{{ID: "isOnline", Status: "Disconnected"}},
			true, false,
		},
		{
			"status token connected",
			"",
			[]api.AttributePayload{{ID: "connectivity", Status: "online"}},
			false, true,
		},
		{
			"unrelated attribute ignored",
			now.Add(-600 * time.Second).Format(time.RFC3339),
			[]api.AttributePayload{{ID: "firmwareVersion", Value: "1.0"}},
			true, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fixedMapper(now)
			m.AssumeOnline = tt.assumeOnline

			p := devicePayload("Device")
			p.Status.LastSeen = tt.lastSeen
			p.Attributes = tt.attributes

			device, skipped, err := m.MapDevice(p, testHomeID)
			require.NoError(t, err)
			require.False(t, skipped)
			assert.Equal(t, tt.want, device.Online)
		})
	}
}

func TestMapDeviceRejectsBadLastSeen(t *testing.T) {
	m := fixedMapper(time.Now())

	p := devicePayload("Device")
	p.Status.LastSeen = "yesterday"

	_, _, err := m.MapDevice(p, testHomeID)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, testDeviceID, mapErr.DeviceID)
}

func TestMapCapabilityDefaultsTimestamp(t *testing.T) {
	now := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)
	m := fixedMapper(now)

	capability, err := m.MapCapability(api.CapabilityPayload{ID: "power", Value: 1500.0}, testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, now, capability.LastUpdated, "missing lastUpdated defaults to now")
	assert.Equal(t, "Power", capability.DisplayName, "display name derived from the id")
}

func TestDisplayNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"power", "Power"},
		{"storage.stateOfCharge", "Storage state of charge"},
		{"connectivity.isOnline", "Connectivity is online"},
		{"firmwareVersion", "Firmware version"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, displayNameFromPath(tt.path), tt.path)
	}
}

func TestMapCapabilityRejectsMissingValue(t *testing.T) {
	m := fixedMapper(time.Now())

	_, err := m.MapCapability(api.CapabilityPayload{ID: "power"}, testDeviceID)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)

	_, err = m.MapCapability(api.CapabilityPayload{Value: 1.0}, testDeviceID)
	require.ErrorAs(t, err, &mapErr)
}

func TestMapAttributeValuePrecedence(t *testing.T) {
	m := fixedMapper(time.Now())

	attr, err := m.MapAttribute(api.AttributePayload{ID: "a", Value: true, Status: "ignored", Description: "ignored"}, testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.BoolValue(true), attr.Value)
	assert.Equal(t, "boolean", attr.DataType)

	attr, err = m.MapAttribute(api.AttributePayload{ID: "a", Status: "Connected", Description: "ignored"}, testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StringValue("Connected"), attr.Value)

	attr, err = m.MapAttribute(api.AttributePayload{ID: "a", Description: "fallback"}, testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.StringValue("fallback"), attr.Value)

	_, err = m.MapAttribute(api.AttributePayload{ID: "a"}, testDeviceID)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestMapAttributeDataTypeInference(t *testing.T) {
	m := fixedMapper(time.Now())

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"bool", true, "boolean"},
		{"number", 42.0, "number"},
		{"datetime string", "2025-09-18T12:00:00Z", "datetime"},
		{"plain string", "v1.2.3", "string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, err := m.MapAttribute(api.AttributePayload{ID: "a", Value: tt.value}, testDeviceID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, attr.DataType)
		})
	}
}

func TestDiagnosticClassification(t *testing.T) {
	m := fixedMapper(time.Now())

	diagnostic := []string{"connectivity.cloud", "firmwareVersion", "isOnline", "connected", "updateAvailable", "softwareVersion", "chargingStatus"}
	for _, id := range diagnostic {
		attr, err := m.MapAttribute(api.AttributePayload{ID: id, Value: "x"}, testDeviceID)
		require.NoError(t, err)
		assert.True(t, attr.IsDiagnostic, "%s should be diagnostic", id)
	}

	primary := []string{"serialNumber", "color", "capacity"}
	for _, id := range primary {
		attr, err := m.MapAttribute(api.AttributePayload{ID: id, Value: "x"}, testDeviceID)
		require.NoError(t, err)
		assert.False(t, attr.IsDiagnostic, "%s should not be diagnostic", id)
	}
}
