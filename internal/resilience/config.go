package resilience

import "time"

// FromConfig converts config values to a BreakerConfig. A threshold of zero
// leaves the breaker disabled.
func FromConfig(failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := BreakerConfig{FailureThreshold: failureThreshold}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
