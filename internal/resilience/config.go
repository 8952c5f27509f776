package resilience

import "time"

const (
	DefaultThreshold         = 3
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int              // failures before opening
	ResetTimeout      time.Duration    // wait before half-open attempt
	HalfOpenSuccesses int              // successes needed to close
	Trips             func(error) bool // which errors count as failures; nil counts all
}

// DefaultConfig returns the defaults used for the remote pipeline calls.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Trips == nil {
		c.Trips = func(error) bool { return true }
	}
	return c
}
