package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO8601(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		want      time.Time
		expectErr bool
	}{
		{
			name:  "zulu suffix",
			value: "2025-09-18T10:00:00Z",
			want:  time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "explicit offset",
			value: "2025-09-18T12:00:00+02:00",
			want:  time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "fractional seconds",
			value: "2025-09-18T10:00:00.250Z",
			want:  time.Date(2025, 9, 18, 10, 0, 0, 250_000_000, time.UTC),
		},
		{
			name:  "no zone treated as UTC",
			value: "2025-09-18T10:00:00",
			want:  time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC),
		},
		{
			name:      "empty",
			value:     "",
			expectErr: true,
		},
		{
			name:      "not a timestamp",
			value:     "3.7.12",
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseISO8601(tt.value)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestIsISO8601(t *testing.T) {
	assert.True(t, IsISO8601("2025-09-18T10:00:00Z"))
	assert.False(t, IsISO8601("firmware-1.2.3"))
	assert.False(t, IsISO8601("true"))
}
