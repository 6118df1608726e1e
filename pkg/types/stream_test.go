package types

import (
	"testing"
	"time"
)

func TestStreamConfigValidate(t *testing.T) {
	valid := StreamConfig{Destination: "10.0.0.1", TrafficClass: 46, Label: "Voice", Interval: time.Second}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid stream, got %v", err)
	}
	if tos := TOS(valid.TrafficClass); tos != 184 {
		t.Fatalf("expected TOS 184 for EF, got %d", tos)
	}

	cases := map[string]StreamConfig{
		"missing destination": {TrafficClass: 0, Label: "x", Interval: time.Second},
		"dscp too large":      {Destination: "10.0.0.1", TrafficClass: 64, Label: "x", Interval: time.Second},
		"negative dscp":       {Destination: "10.0.0.1", TrafficClass: -1, Label: "x", Interval: time.Second},
		"missing label":       {Destination: "10.0.0.1", Interval: time.Second},
		"zero interval":       {Destination: "10.0.0.1", Label: "x"},
		"negative timeout":    {Destination: "10.0.0.1", Label: "x", Interval: time.Second, Timeout: -time.Second},
	}
	for name, stream := range cases {
		if err := stream.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailure, StatusError} {
		got, ok := ParseStatus(string(s))
		if !ok || got != s {
			t.Fatalf("ParseStatus(%q) = %q, %t", s, got, ok)
		}
	}
	if _, ok := ParseStatus("success"); ok {
		t.Fatalf("status parsing must be case sensitive")
	}
}
