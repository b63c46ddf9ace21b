package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Retention is the history retention window, an enumerated set of windows
// rather than a free duration. Each value maps to a fixed ring capacity.
type Retention string

const (
	Retention1Min   Retention = "1m"
	Retention5Min   Retention = "5m"
	Retention1Hour  Retention = "1h"
	Retention24Hour Retention = "24h"
)

// ParseRetention converts a string to a Retention value.
func ParseRetention(s string) (Retention, error) {
	switch Retention(s) {
	case Retention1Min, Retention5Min, Retention1Hour, Retention24Hour:
		return Retention(s), nil
	default:
		return "", fmt.Errorf("invalid retention %q (valid: 1m, 5m, 1h, 24h)", s)
	}
}

// Duration returns the retention window length. Unknown values return 0;
// Normalize replaces them with the default.
func (r Retention) Duration() time.Duration {
	switch r {
	case Retention1Min:
		return time.Minute
	case Retention5Min:
		return 5 * time.Minute
	case Retention1Hour:
		return time.Hour
	case Retention24Hour:
		return 24 * time.Hour
	default:
		return 0
	}
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Retention.
func (r *Retention) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseRetention(value.Value)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	default:
		return fmt.Errorf("unsupported retention format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Retention.
func (r Retention) MarshalYAML() (interface{}, error) {
	return string(r), nil
}
