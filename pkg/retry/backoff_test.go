package retry

import (
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelayBackoffBound(t *testing.T) {
	cfg := DefaultConfig()

	for attempt := 0; attempt < 10; attempt++ {
		ceiling := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
		if ceiling > float64(cfg.MaxDelay) {
			ceiling = float64(cfg.MaxDelay)
		}

		// Sampled delays, so check the bound over many draws
		for i := 0; i < 200; i++ {
			delay := cfg.ComputeDelay(attempt, "")
			assert.GreaterOrEqual(t, delay, time.Duration(0), "attempt %d", attempt)
			assert.LessOrEqual(t, float64(delay), ceiling, "attempt %d", attempt)
		}
	}
}

func TestComputeDelayNeverExceedsMaxDelay(t *testing.T) {
	cfg := DefaultConfig()

	for i := 0; i < 200; i++ {
		delay := cfg.ComputeDelay(50, "")
		assert.LessOrEqual(t, delay, cfg.MaxDelay)
	}
}

func TestComputeDelayRespectsRetryAfter(t *testing.T) {
	cfg := DefaultConfig()

	for i := 0; i < 200; i++ {
		delay := cfg.ComputeDelay(0, "5")
		assert.GreaterOrEqual(t, delay, 5*time.Second)
		assert.LessOrEqual(t, delay, 5*time.Second+cfg.RetryAfterJitter)
	}
}

func TestComputeDelayUnparseableRetryAfterFallsBack(t *testing.T) {
	cfg := DefaultConfig()

	for i := 0; i < 200; i++ {
		delay := cfg.ComputeDelay(0, "soon")
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, cfg.InitialDelay)
	}
}

func TestComputeDelayNegativeAttempt(t *testing.T) {
	cfg := DefaultConfig()

	delay := cfg.ComputeDelay(-3, "")
	assert.GreaterOrEqual(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, cfg.InitialDelay)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{
			name:  "integer seconds",
			value: "30",
			want:  30 * time.Second,
		},
		{
			name:  "fractional seconds",
			value: "1.5",
			want:  1500 * time.Millisecond,
		},
		{
			name:  "negative seconds",
			value: "-5",
			want:  0,
		},
		{
			name:  "garbage",
			value: "whenever",
			want:  0,
		},
		{
			name:  "empty",
			value: "",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRetryAfter(tt.value))
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)

	d := ParseRetryAfter(future)
	assert.Greater(t, d, 5*time.Second)
	assert.LessOrEqual(t, d, 10*time.Second)

	past := time.Now().Add(-10 * time.Second).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), ParseRetryAfter(past))
}
