package types

import "time"

// Status classifies the outcome of a single probe attempt.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
	StatusError   Status = "Error"
)

// ParseStatus maps the literal log value back to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusSuccess, StatusFailure, StatusError:
		return Status(s), true
	default:
		return "", false
	}
}

// ProbeResult is one row of the durable log. LatencyMs is only meaningful
// when Status is StatusSuccess.
type ProbeResult struct {
	Timestamp    time.Time `json:"ts" yaml:"ts"`
	LatencyMs    float64   `json:"latency_ms" yaml:"latency_ms"`
	Status       Status    `json:"status" yaml:"status"`
	Destination  string    `json:"destination" yaml:"destination"`
	TrafficClass int       `json:"dscp" yaml:"dscp"`
	Label        string    `json:"label" yaml:"label"`
}

// Succeeded reports whether the probe received a reply.
func (r ProbeResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
