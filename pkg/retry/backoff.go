package retry

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Config holds retry configuration parameters
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// InitialDelay is the base delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff delay
	MaxDelay time.Duration
	// BackoffFactor is the factor by which the delay cap grows each attempt
	BackoffFactor float64
	// RetryAfterJitter is the maximum random jitter added on top of a
	// server-supplied Retry-After value
	RetryAfterJitter time.Duration
}

// DefaultConfig returns the retry configuration the provider documents for
// its data API: five attempts, 400ms base delay doubling per attempt,
// capped at 15s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		InitialDelay:     400 * time.Millisecond,
		MaxDelay:         15 * time.Second,
		BackoffFactor:    2.0,
		RetryAfterJitter: 250 * time.Millisecond,
	}
}

// ComputeDelay calculates how long to sleep before retrying attempt
// (zero-based). A numeric Retry-After value from the server is honored with
// a small random jitter on top. Otherwise the delay is sampled uniformly
// between zero and an exponentially growing cap ("full jitter"), which
// spreads simultaneous retries from many installations across time.
//
// #nosec G404 - non-cryptographic random is sufficient for retry jitter
func (c Config) ComputeDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if hinted := ParseRetryAfter(retryAfter); hinted > 0 {
			jitter := time.Duration(rand.Float64() * float64(c.RetryAfterJitter))
			return hinted + jitter
		}
		// Unparseable hint, fall through to exponential backoff
	}

	if attempt < 0 {
		attempt = 0
	}

	ceiling := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if ceiling > float64(c.MaxDelay) {
		ceiling = float64(c.MaxDelay)
	}

	return time.Duration(rand.Float64() * ceiling)
}

// ParseRetryAfter parses a Retry-After header value, which can be either a
// number of seconds or an HTTP date. Returns 0 if the value is unusable.
func ParseRetryAfter(value string) time.Duration {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
