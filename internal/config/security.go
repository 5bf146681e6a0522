package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// RateLimitConfig bounds how fast a single peer may call this node.
type RateLimitConfig struct {
	Enabled              bool    `mapstructure:"enabled"`                 // Enable rate limiting (default: true)
	MaxRequestsPerSecond float64 `mapstructure:"max_requests_per_second"` // Per-peer request rate (default: 10)
	BurstSize            int     `mapstructure:"burst_size"`              // Per-peer burst allowance (default: 20)
}

// Default rate limit values.
const (
	DefaultMaxRequestsPerSec = 10.0
	DefaultBurst             = 20
)

func setRateLimitDefaults(v *viper.Viper) {
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_requests_per_second", DefaultMaxRequestsPerSec)
	v.SetDefault("rate_limit.burst_size", DefaultBurst)
}

// Validate checks that the rate limit configuration has valid values.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.max_requests_per_second must be positive, got %v", c.MaxRequestsPerSecond)
	}
	if c.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive, got %d", c.BurstSize)
	}
	return nil
}
