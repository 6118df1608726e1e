package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/pathprobe/internal/logging"
	"github.com/pingsantohq/pathprobe/internal/metrics"
	"github.com/pingsantohq/pathprobe/internal/probe"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

type ResultSink interface {
	Append(types.ProbeResult) error
}

// Runner executes a job end to end: probe, build the result row, persist it.
type Runner struct {
	prober  probe.Prober
	sink    ResultSink
	metrics metrics.ProbeRecorder
	logger  logrus.FieldLogger
	now     func() time.Time

	mu       sync.Mutex
	erroring map[string]bool
}

type RunnerOption func(*Runner)

func WithMetrics(rec metrics.ProbeRecorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

func WithLogger(logger logrus.FieldLogger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithNow(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(prober probe.Prober, sink ResultSink, opts ...RunnerOption) *Runner {
	r := &Runner{
		prober:  prober,
		sink:    sink,
		metrics: metrics.NoopProbeRecorder{},
		logger:  logging.Discard(),
		now:     time.Now,

		erroring: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run probes the job's destination and appends the outcome to the sink. The
// row is timestamped at dispatch. Once dispatched, the probe runs to its own
// timeout even if ctx is cancelled, so a stop never drops an in-flight
// result. The returned error is non-nil only when the sink rejected the row.
func (r *Runner) Run(ctx context.Context, job Job) (types.ProbeResult, error) {
	stream := job.Stream
	dispatched := r.now().Truncate(time.Millisecond)

	outcome := r.prober.Probe(context.WithoutCancel(ctx), probe.Request{
		Destination:  stream.Destination,
		TrafficClass: stream.TrafficClass,
		Timeout:      stream.Timeout,
	})

	result := types.ProbeResult{
		Timestamp:    dispatched,
		Status:       outcome.Status,
		Destination:  stream.Destination,
		TrafficClass: stream.TrafficClass,
		Label:        stream.Label,
	}
	if outcome.Status == types.StatusSuccess {
		result.LatencyMs = outcome.LatencyMs()
	}

	entry := r.logger.WithFields(logrus.Fields{
		"stream":      stream.ID,
		"label":       stream.Label,
		"destination": stream.Destination,
		"dscp":        stream.TrafficClass,
		"status":      string(result.Status),
	})
	if !job.ScheduledFor.IsZero() {
		entry = entry.WithField("lag", dispatched.Sub(job.ScheduledFor))
	}
	switch result.Status {
	case types.StatusSuccess:
		entry.WithField("latency_ms", result.LatencyMs).Debug("probe succeeded")
	case types.StatusFailure:
		entry.Debug("probe timed out")
	default:
		entry = entry.WithError(outcome.Err)
		if r.markErroring(stream.ID, true) {
			entry.Debug("probe could not be performed")
		} else {
			entry.Warn("probe could not be performed")
		}
	}
	if result.Status != types.StatusError {
		r.markErroring(stream.ID, false)
	}

	if err := r.sink.Append(result); err != nil {
		r.metrics.IncSinkErrors()
		entry.WithError(err).Error("persist probe result")
		return result, err
	}
	r.metrics.ObserveProbe(stream.ID, result)
	return result, nil
}

// markErroring records whether the stream's last probe was an Error and
// reports the previous value. Only the first Error of a streak is logged
// above debug.
func (r *Runner) markErroring(streamID string, erroring bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.erroring[streamID]
	r.erroring[streamID] = erroring
	return prev
}
