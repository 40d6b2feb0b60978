package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueKind discriminates the runtime shape of a capability or attribute
// value. Raw API JSON is duck-typed; the mapper resolves each value into a
// tagged Value exactly once so downstream code never touches raw JSON.
type ValueKind int

const (
	StringKind ValueKind = iota
	NumberKind
	BoolKind
	TimeKind
)

// Value is a tagged union over the value shapes the provider emits.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

func StringValue(s string) Value  { return Value{Kind: StringKind, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: NumberKind, Num: n} }
func BoolValue(b bool) Value      { return Value{Kind: BoolKind, Bool: b} }
func TimeValue(t time.Time) Value { return Value{Kind: TimeKind, Time: t} }

// DataType returns the wire-level data type name for the value.
func (v Value) DataType() string {
	switch v.Kind {
	case NumberKind:
		return "number"
	case BoolKind:
		return "boolean"
	case TimeKind:
		return "datetime"
	default:
		return "string"
	}
}

func (v Value) String() string {
	switch v.Kind {
	case NumberKind:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case BoolKind:
		return strconv.FormatBool(v.Bool)
	case TimeKind:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

// MarshalJSON renders the value in its native JSON shape so snapshot
// consumers see a plain bool/number/string rather than the union struct.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case NumberKind:
		return json.Marshal(v.Num)
	case BoolKind:
		return json.Marshal(v.Bool)
	case TimeKind:
		return json.Marshal(v.Time.Format(time.RFC3339))
	default:
		return json.Marshal(v.Str)
	}
}

// Home represents a user's physical location with associated devices.
type Home struct {
	HomeID      string            `json:"id"`
	DisplayName string            `json:"display_name"`
	TimeZone    string            `json:"time_zone"`
	Address     map[string]string `json:"address,omitempty"`
	DeviceCount int               `json:"device_count"`
}

// Validate checks the Home invariants: non-empty UUID-shaped id, non-empty
// display name, and an IANA (or UTC/GMT) time zone.
func (h Home) Validate() error {
	if h.HomeID == "" {
		return fmt.Errorf("home ID is required")
	}
	if _, err := uuid.Parse(h.HomeID); err != nil {
		return fmt.Errorf("home ID must be a valid UUID: %w", err)
	}
	if h.DisplayName == "" {
		return fmt.Errorf("display name must not be empty")
	}
	if err := validateTimeZone(h.TimeZone); err != nil {
		return err
	}
	return nil
}

func validateTimeZone(tz string) error {
	if tz == "" {
		return fmt.Errorf("time zone is required")
	}
	if strings.Contains(tz, "/") || tz == "UTC" || tz == "GMT" {
		return nil
	}
	return fmt.Errorf("time zone %q must be an IANA identifier or UTC/GMT", tz)
}

// Capability is a live, valued device function (e.g. battery level). Name
// is a dotted path like "storage.stateOfCharge".
type Capability struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Value       Value     `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Attribute is device metadata (connectivity, firmware, identifiers)
// rather than a live measurement.
type Attribute struct {
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Value        Value     `json:"value"`
	DataType     string    `json:"data_type"`
	LastUpdated  time.Time `json:"last_updated"`
	IsDiagnostic bool      `json:"is_diagnostic"`
}

// Device is an IoT device connected through the provider platform.
type Device struct {
	DeviceID     string       `json:"id"`
	ExternalID   string       `json:"external_id,omitempty"`
	Name         string       `json:"name"`
	HomeID       string       `json:"home_id"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Model        string       `json:"model,omitempty"`
	Online       bool         `json:"online"`
	LastSeen     *time.Time   `json:"last_seen,omitempty"`
	Capabilities []Capability `json:"capabilities"`
	Attributes   []Attribute  `json:"attributes"`
}

// Validate checks the Device invariants. The home reference check against
// the enclosing snapshot happens at snapshot assembly.
func (d Device) Validate() error {
	if d.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if strings.ContainsAny(d.DeviceID, " \t\n") {
		return fmt.Errorf("device ID %q is not identifier-shaped", d.DeviceID)
	}
	if d.HomeID == "" {
		return fmt.Errorf("device %s: home ID is required", d.DeviceID)
	}
	return nil
}

// GetCapability returns the capability with the given dotted name, or nil.
func (d *Device) GetCapability(name string) *Capability {
	for i := range d.Capabilities {
		if d.Capabilities[i].Name == name {
			return &d.Capabilities[i]
		}
	}
	return nil
}

// GetAttribute returns the attribute with the given dotted path, or nil.
func (d *Device) GetAttribute(path string) *Attribute {
	for i := range d.Attributes {
		if d.Attributes[i].Name == path {
			return &d.Attributes[i]
		}
	}
	return nil
}

// Snapshot is one published, immutable homes+devices state produced by a
// poll cycle. Consumers must never mutate it; the coordinator replaces the
// whole snapshot on each successful cycle.
type Snapshot struct {
	Homes     map[string]Home   `json:"homes"`
	Devices   map[string]Device `json:"devices"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// NewSnapshot assembles a snapshot and enforces that every device
// references a home present in the same snapshot.
func NewSnapshot(homes []Home, devices []Device, fetchedAt time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Homes:     make(map[string]Home, len(homes)),
		Devices:   make(map[string]Device, len(devices)),
		FetchedAt: fetchedAt,
	}
	for _, h := range homes {
		if err := h.Validate(); err != nil {
			return nil, err
		}
		snap.Homes[h.HomeID] = h
	}
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, ok := snap.Homes[d.HomeID]; !ok {
			return nil, fmt.Errorf("device %s references unknown home %s", d.DeviceID, d.HomeID)
		}
		snap.Devices[d.DeviceID] = d
	}
	return snap, nil
}

// WithDevice returns a copy of the snapshot with one device entry replaced,
// leaving the receiver untouched. Used for incremental single-device
// refresh so published snapshots stay immutable.
func (s *Snapshot) WithDevice(d Device) (*Snapshot, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.Homes[d.HomeID]; !ok {
		return nil, fmt.Errorf("device %s references unknown home %s", d.DeviceID, d.HomeID)
	}

	next := &Snapshot{
		Homes:     make(map[string]Home, len(s.Homes)),
		Devices:   make(map[string]Device, len(s.Devices)),
		FetchedAt: s.FetchedAt,
	}
	for id, h := range s.Homes {
		next.Homes[id] = h
	}
	for id, dev := range s.Devices {
		next.Devices[id] = dev
	}
	next.Devices[d.DeviceID] = d
	return next, nil
}

// Home returns the home with the given id.
func (s *Snapshot) Home(homeID string) (Home, bool) {
	h, ok := s.Homes[homeID]
	return h, ok
}

// Device returns the device with the given id.
func (s *Snapshot) Device(deviceID string) (Device, bool) {
	d, ok := s.Devices[deviceID]
	return d, ok
}

// DevicesForHome returns all devices belonging to the given home.
func (s *Snapshot) DevicesForHome(homeID string) []Device {
	var out []Device
	for _, d := range s.Devices {
		if d.HomeID == homeID {
			out = append(out, d)
		}
	}
	return out
}

// OnlineDevices returns all devices currently considered online.
func (s *Snapshot) OnlineDevices() []Device {
	var out []Device
	for _, d := range s.Devices {
		if d.Online {
			out = append(out, d)
		}
	}
	return out
}
