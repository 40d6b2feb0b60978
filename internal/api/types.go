package api

// Wire payloads for the data API. Capability and attribute values are
// duck-typed JSON; they stay `any` here and are resolved into tagged
// values by the mapper.

// HomePayload is one entry of GET /v1/homes.
type HomePayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	TimeZone    string `json:"timeZone"`
	Info        struct {
		Name     string `json:"name"`
		TimeZone string `json:"timeZone"`
	} `json:"info"`
	Address     map[string]string `json:"address"`
	DeviceCount int               `json:"deviceCount"`
}

// DevicePayload is one entry of GET /v1/homes/{homeId}/devices, or the
// full detail body including capabilities and attributes.
type DevicePayload struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Info       struct {
		Name         string `json:"name"`
		Manufacturer string `json:"manufacturer"`
		Model        string `json:"model"`
	} `json:"info"`
	Status struct {
		LastSeen string `json:"lastSeen"`
	} `json:"status"`
	Capabilities []CapabilityPayload `json:"capabilities"`
	Attributes   []AttributePayload  `json:"attributes"`
}

// CapabilityPayload is a present-tense measurable function value.
type CapabilityPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Value       any    `json:"value"`
	Unit        string `json:"unit"`
	LastUpdated string `json:"lastUpdated"`
}

// AttributePayload is device metadata. Value extraction is polymorphic:
// some attributes carry a value, connectivity-style ones carry a status
// token, and some only have a description.
type AttributePayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Value       any    `json:"value"`
	Status      string `json:"status"`
	Description string `json:"description"`
	LastUpdated string `json:"lastUpdated"`
}

// HistoryEntry is one aggregated sample of a device's capability history.
type HistoryEntry struct {
	Timestamp    string         `json:"timestamp"`
	Capabilities map[string]any `json:"capabilities"`
}
