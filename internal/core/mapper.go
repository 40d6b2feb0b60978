// Package core contains the poll orchestration: mapping raw API payloads
// into the normalized schema and the coordinator that keeps a published
// snapshot fresh.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/sondrele/tibber-data-poller/internal/api"
	"github.com/sondrele/tibber-data-poller/pkg/model"
	"github.com/sondrele/tibber-data-poller/pkg/timeutil"
)

// onlineWindow is how recently a device must have been seen to be
// considered online when no connectivity attribute is present.
const onlineWindow = 300 * time.Second

// diagnosticKeywords classify an attribute as diagnostic rather than a
// primary reading when its id contains one of them.
var diagnosticKeywords = []string{
	"connectivity", "firmware", "online", "connected", "status", "update", "version",
}

// placeholderNames are provider values that mean "no name was set".
var placeholderNames = map[string]bool{
	"":          true,
	"no name":   true,
	"<no name>": true,
}

// MappingError marks a payload that cannot be turned into a domain
// record. The coordinator logs it and skips the offending device instead
// of failing the cycle.
type MappingError struct {
	DeviceID string
	Field    string
	Reason   string
}

func (e *MappingError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("mapping device %s: %s: %s", e.DeviceID, e.Field, e.Reason)
	}
	return fmt.Sprintf("mapping %s: %s", e.Field, e.Reason)
}

// Mapper converts raw API payloads into normalized records. It is
// stateless apart from the injected clock; every method is a pure
// transform of its input.
type Mapper struct {
	// AssumeOnline controls the no-signal default: with neither a
	// connectivity attribute nor a last-seen timestamp, a device is
	// reported online when true. The optimistic default can show stale
	// devices as online, so it is configurable.
	AssumeOnline bool

	now func() time.Time
}

// NewMapper creates a mapper with the given no-signal online default.
func NewMapper(assumeOnline bool) *Mapper {
	return &Mapper{AssumeOnline: assumeOnline, now: time.Now}
}

// MapHome normalizes a home payload. The display name prefers info.name,
// then the top-level displayName, then a generic id-derived fallback; the
// time zone defaults to UTC.
func (m *Mapper) MapHome(payload api.HomePayload) (model.Home, error) {
	if payload.ID == "" {
		return model.Home{}, &MappingError{Field: "home.id", Reason: "missing"}
	}

	displayName := payload.Info.Name
	if displayName == "" {
		displayName = payload.DisplayName
	}
	if displayName == "" {
		displayName = "Home " + idPrefix(payload.ID)
	}

	timeZone := payload.Info.TimeZone
	if timeZone == "" {
		timeZone = payload.TimeZone
	}
	if timeZone == "" {
		timeZone = "UTC"
	}

	home := model.Home{
		HomeID:      payload.ID,
		DisplayName: displayName,
		TimeZone:    timeZone,
		Address:     payload.Address,
		DeviceCount: payload.DeviceCount,
	}
	if err := home.Validate(); err != nil {
		return model.Home{}, &MappingError{Field: "home", Reason: err.Error()}
	}
	return home, nil
}

// MapDevice normalizes a device payload under the given home. The second
// return value is true when the device is a provider-side test fixture
// ("Dummy") that must be dropped from the snapshot.
func (m *Mapper) MapDevice(payload api.DevicePayload, homeID string) (model.Device, bool, error) {
	if payload.ID == "" {
		return model.Device{}, false, &MappingError{Field: "device.id", Reason: "missing"}
	}

	name := resolveDeviceName(payload)
	if strings.EqualFold(strings.TrimSpace(name), "dummy") {
		return model.Device{}, true, nil
	}

	var lastSeen *time.Time
	if payload.Status.LastSeen != "" {
		parsed, err := timeutil.ParseISO8601(payload.Status.LastSeen)
		if err != nil {
			return model.Device{}, false, &MappingError{
				DeviceID: payload.ID,
				Field:    "status.lastSeen",
				Reason:   err.Error(),
			}
		}
		lastSeen = &parsed
	}

	capabilities := make([]model.Capability, 0, len(payload.Capabilities))
	for _, raw := range payload.Capabilities {
		capability, err := m.MapCapability(raw, payload.ID)
		if err != nil {
			return model.Device{}, false, err
		}
		capabilities = append(capabilities, capability)
	}

	attributes := make([]model.Attribute, 0, len(payload.Attributes))
	for _, raw := range payload.Attributes {
		attribute, err := m.MapAttribute(raw, payload.ID)
		if err != nil {
			return model.Device{}, false, err
		}
		attributes = append(attributes, attribute)
	}

	device := model.Device{
		DeviceID:     payload.ID,
		ExternalID:   payload.ExternalID,
		Name:         name,
		HomeID:       homeID,
		Manufacturer: payload.Info.Manufacturer,
		Model:        payload.Info.Model,
		Online:       m.deriveOnline(payload.Attributes, lastSeen),
		LastSeen:     lastSeen,
		Capabilities: capabilities,
		Attributes:   attributes,
	}
	if err := device.Validate(); err != nil {
		return model.Device{}, false, &MappingError{DeviceID: payload.ID, Field: "device", Reason: err.Error()}
	}
	return device, false, nil
}

// MapCapability normalizes one capability entry. A missing lastUpdated
// defaults to now: capabilities are the primary value-bearing payload and
// are never rejected for a missing timestamp alone.
func (m *Mapper) MapCapability(payload api.CapabilityPayload, deviceID string) (model.Capability, error) {
	if payload.ID == "" {
		return model.Capability{}, &MappingError{DeviceID: deviceID, Field: "capability.id", Reason: "missing"}
	}
	if payload.Value == nil {
		return model.Capability{}, &MappingError{DeviceID: deviceID, Field: "capability.value", Reason: "missing"}
	}

	value, err := coerceValue(payload.Value)
	if err != nil {
		return model.Capability{}, &MappingError{DeviceID: deviceID, Field: "capability.value", Reason: err.Error()}
	}

	lastUpdated := m.now().UTC()
	if payload.LastUpdated != "" {
		parsed, err := timeutil.ParseISO8601(payload.LastUpdated)
		if err == nil {
			lastUpdated = parsed
		}
	}

	return model.Capability{
		Name:        payload.ID,
		DisplayName: displayNameOr(payload.DisplayName, displayNameFromPath(payload.ID)),
		Value:       value,
		Unit:        payload.Unit,
		LastUpdated: lastUpdated,
	}, nil
}

// MapAttribute normalizes one attribute entry. Value extraction is
// polymorphic: the value field wins, then status, then description.
func (m *Mapper) MapAttribute(payload api.AttributePayload, deviceID string) (model.Attribute, error) {
	if payload.ID == "" {
		return model.Attribute{}, &MappingError{DeviceID: deviceID, Field: "attribute.id", Reason: "missing"}
	}

	var value model.Value
	switch {
	case payload.Value != nil:
		coerced, err := coerceValue(payload.Value)
		if err != nil {
			return model.Attribute{}, &MappingError{DeviceID: deviceID, Field: "attribute.value", Reason: err.Error()}
		}
		value = coerced
	case payload.Status != "":
		value = model.StringValue(payload.Status)
	case payload.Description != "":
		value = model.StringValue(payload.Description)
	default:
		return model.Attribute{}, &MappingError{DeviceID: deviceID, Field: "attribute", Reason: "no value, status, or description"}
	}

	lastUpdated := m.now().UTC()
	if payload.LastUpdated != "" {
		parsed, err := timeutil.ParseISO8601(payload.LastUpdated)
		if err == nil {
			lastUpdated = parsed
		}
	}

	return model.Attribute{
		Name:         payload.ID,
		DisplayName:  displayNameOr(payload.DisplayName, displayNameFromPath(payload.ID)),
		Value:        value,
		DataType:     value.DataType(),
		LastUpdated:  lastUpdated,
		IsDiagnostic: isDiagnostic(payload.ID),
	}, nil
}

// deriveOnline resolves the online flag. Order: an explicit connectivity
// attribute wins, then last-seen recency, then the configured no-signal
// default.
func (m *Mapper) deriveOnline(attributes []api.AttributePayload, lastSeen *time.Time) bool {
	for _, attr := range attributes {
		lower := strings.ToLower(attr.ID)
		if !strings.Contains(lower, "connectivity") && !strings.Contains(lower, "online") {
			continue
		}
		if online, ok := attr.Value.(bool); ok {
			return online
		}
		switch strings.ToLower(strings.TrimSpace(attr.Status)) {
		case "connected", "online":
			return true
		case "disconnected", "offline":
			return false
		}
	}

	if lastSeen != nil {
		return m.now().Sub(*lastSeen) < onlineWindow
	}
	return m.AssumeOnline
}

// resolveDeviceName applies the display-name fallback chain so a device
// is never published unnamed.
func resolveDeviceName(payload api.DevicePayload) string {
	name := strings.TrimSpace(payload.Info.Name)
	if !placeholderNames[strings.ToLower(name)] {
		return name
	}

	manufacturer := strings.TrimSpace(payload.Info.Manufacturer)
	deviceModel := strings.TrimSpace(payload.Info.Model)
	switch {
	case manufacturer != "" && deviceModel != "":
		return manufacturer + " " + deviceModel
	case deviceModel != "":
		return deviceModel
	case manufacturer != "":
		return manufacturer
	default:
		return "Device " + idPrefix(payload.ID)
	}
}

// coerceValue resolves a raw JSON value into the tagged union. Strings
// that parse as ISO-8601 timestamps become datetime values.
func coerceValue(raw any) (model.Value, error) {
	switch v := raw.(type) {
	case bool:
		return model.BoolValue(v), nil
	case float64:
		return model.NumberValue(v), nil
	case string:
		if timeutil.IsISO8601(v) {
			parsed, err := timeutil.ParseISO8601(v)
			if err == nil {
				return model.TimeValue(parsed), nil
			}
		}
		return model.StringValue(v), nil
	default:
		return model.Value{}, fmt.Errorf("unsupported value shape %T", raw)
	}
}

func isDiagnostic(id string) bool {
	lower := strings.ToLower(id)
	for _, keyword := range diagnosticKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func displayNameOr(displayName, fallback string) string {
	if displayName != "" {
		return displayName
	}
	return fallback
}

// displayNameFromPath derives a readable name from a dotted camelCase id,
// e.g. "storage.stateOfCharge" becomes "Storage state of charge".
func displayNameFromPath(path string) string {
	var words []string
	for _, segment := range strings.Split(path, ".") {
		words = append(words, splitCamel(segment)...)
	}
	if len(words) == 0 {
		return path
	}

	out := strings.Join(words, " ")
	return strings.ToUpper(out[:1]) + out[1:]
}

func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			words = append(words, strings.ToLower(s[start:i]))
			start = i
		}
	}
	if start < len(s) {
		words = append(words, strings.ToLower(s[start:]))
	}
	return words
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
