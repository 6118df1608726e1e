package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

// StreamEntry is a stream as written in a config document. Decoding is
// strict: every required key must be present and unknown keys are rejected.
type StreamEntry struct {
	types.StreamConfig
}

var streamKeyAliases = map[string]string{
	"destination":   "destination",
	"dscp":          "dscp",
	"traffic_class": "dscp",
	"trafficClass":  "dscp",
	"label":         "label",
	"interval":      "interval",
	"timeout":       "timeout",
}

var requiredStreamKeys = []string{"destination", "dscp", "label", "interval"}

func (e *StreamEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: stream must be a mapping", node.Line)
	}
	raw := make(map[string]any, len(node.Content)/2)
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if err := e.fromMap(raw); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (e *StreamEntry) UnmarshalTOML(data any) error {
	raw, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("stream must be a table, got %T", data)
	}
	return e.fromMap(raw)
}

func (e *StreamEntry) fromMap(raw map[string]any) error {
	seen := make(map[string]string, len(raw))
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var s types.StreamConfig
	for _, key := range keys {
		canonical, ok := streamKeyAliases[key]
		if !ok {
			return fmt.Errorf("unknown stream field %q", key)
		}
		if prev, dup := seen[canonical]; dup {
			return fmt.Errorf("stream fields %q and %q both set", prev, key)
		}
		seen[canonical] = key

		value := raw[key]
		switch canonical {
		case "destination":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("destination must be a string, got %T", value)
			}
			s.Destination = strings.TrimSpace(str)
		case "label":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("label must be a string, got %T", value)
			}
			s.Label = str
		case "dscp":
			n, err := asInt(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			s.TrafficClass = n
		case "interval":
			d, err := asSeconds(value)
			if err != nil {
				return fmt.Errorf("interval: %w", err)
			}
			s.Interval = d
		case "timeout":
			d, err := asSeconds(value)
			if err != nil {
				return fmt.Errorf("timeout: %w", err)
			}
			s.Timeout = d
		}
	}

	for _, key := range requiredStreamKeys {
		if _, ok := seen[key]; !ok {
			return fmt.Errorf("missing stream field %q", key)
		}
	}

	e.StreamConfig = s
	return nil
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("must be an integer, got %v", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", value)
	}
}

// asSeconds accepts a number of seconds or a Go duration string.
func asSeconds(value any) (time.Duration, error) {
	switch v := value.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("must be a finite number, got %v", v)
		}
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", v, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("must be a number of seconds, got %T", value)
	}
}

// Seconds is a duration written as a number of seconds or a Go duration
// string, the same way stream intervals are.
type Seconds time.Duration

func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*s = 0
		return nil
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	d, err := asSeconds(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = Seconds(d)
	return nil
}

func (s *Seconds) UnmarshalTOML(data any) error {
	d, err := asSeconds(data)
	if err != nil {
		return err
	}
	*s = Seconds(d)
	return nil
}
