package types

import (
	"fmt"
	"time"
)

// MaxTrafficClass is the largest DSCP value that fits the 6-bit field.
const MaxTrafficClass = 63

// StreamConfig describes one independently scheduled probing target.
type StreamConfig struct {
	ID           string        `json:"id" yaml:"id"`
	Destination  string        `json:"destination" yaml:"destination"`
	TrafficClass int           `json:"dscp" yaml:"dscp"`
	Label        string        `json:"label" yaml:"label"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate reports the first invariant the stream violates.
func (s StreamConfig) Validate() error {
	if s.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if s.TrafficClass < 0 || s.TrafficClass > MaxTrafficClass {
		return fmt.Errorf("dscp %d out of range 0-%d", s.TrafficClass, MaxTrafficClass)
	}
	if s.Label == "" {
		return fmt.Errorf("label is required")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.Interval)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	return nil
}

// TOS returns the type-of-service (IPv4) or traffic-class (IPv6) byte that
// carries dscp in its upper six bits.
func TOS(dscp int) int {
	return dscp << 2
}
