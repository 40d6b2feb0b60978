// Package timeutil parses the ISO-8601 timestamp variants the provider's
// API emits. Payloads mix 'Z'-suffixed, offset-suffixed, and fractional
// timestamps, so all parsing funnels through one helper.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseISO8601 parses an ISO-8601 timestamp. A 'Z' suffix is normalized to
// a +00:00 offset; timestamps without a zone are taken as UTC.
func ParseISO8601(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if strings.HasSuffix(v, "Z") {
		v = strings.TrimSuffix(v, "Z") + "+00:00"
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// IsISO8601 reports whether the value parses as an ISO-8601 timestamp.
// Used to classify string attribute values as datetimes.
func IsISO8601(value string) bool {
	_, err := ParseISO8601(value)
	return err == nil
}
