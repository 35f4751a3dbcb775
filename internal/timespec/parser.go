// Package timespec parses human-friendly ages such as "30d" or "1h30m".
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// ParseAge parses an age specification into a duration.
// Supports:
//   - Go duration format: "1h", "30m", "1h30m", "720h"
//   - Whole days or weeks: "30d", "2w"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z", meaning the time elapsed since then
func ParseAge(spec string) (time.Duration, error) {
	return parseAge(spec, time.Now())
}

func parseAge(spec string, now time.Time) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, fmt.Errorf("empty age specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		if t.After(now) {
			return 0, fmt.Errorf("age timestamp %s is in the future", spec)
		}
		return now.Sub(t), nil
	}

	if unit := spec[len(spec)-1]; unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(spec[:len(spec)-1])
		if err == nil {
			if n < 0 {
				return 0, fmt.Errorf("age must not be negative: %s", spec)
			}
			if unit == 'w' {
				return time.Duration(n) * week, nil
			}
			return time.Duration(n) * day, nil
		}
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("age must not be negative: %s", spec)
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid age specification: %s (use a duration like '720h', days like '30d' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// Duration is a time.Duration that unmarshals from age specifications in
// YAML, so config files can say "30d".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := ParseAge(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
