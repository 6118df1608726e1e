package metrics

import "github.com/pingsantohq/pathprobe/pkg/types"

// ProbeRecorder receives every persisted probe outcome.
type ProbeRecorder interface {
	ObserveProbe(streamID string, result types.ProbeResult)
	IncSinkErrors()
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) ObserveProbe(streamID string, result types.ProbeResult) {}
func (NoopProbeRecorder) IncSinkErrors()                                         {}
