package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/pingsantohq/pathprobe/internal/metrics"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

// staleFactor scales a stream's interval plus timeout into the window within
// which it must have dispatched again.
const staleFactor = 3

// Checker evaluates readiness of the probing engine.
type Checker struct {
	metrics *metrics.Store

	mu        sync.RWMutex
	streams   []types.StreamConfig
	startedAt time.Time
	running   bool
	sinkErr   string
}

// NewChecker constructs a readiness checker bound to the provided metrics
// store, which also supplies the per-stream dispatch times.
func NewChecker(store *metrics.Store) *Checker {
	return &Checker{metrics: store}
}

// ObserveRunStart records the streams of a newly started run.
func (c *Checker) ObserveRunStart(ts time.Time, streams []types.StreamConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append([]types.StreamConfig(nil), streams...)
	c.startedAt = ts
	c.running = true
	c.sinkErr = ""
}

func (c *Checker) ObserveRunStop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Checker) ObserveSinkFailure(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.sinkErr = err.Error()
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	c.mu.RLock()
	running := c.running
	sinkErr := c.sinkErr
	startedAt := c.startedAt
	streams := c.streams
	c.mu.RUnlock()

	var reasons []string
	if !running {
		reasons = append(reasons, "engine not running")
	}
	if sinkErr != "" {
		reasons = append(reasons, fmt.Sprintf("result sink failing: %s", sinkErr))
	}

	if running && c.metrics != nil {
		last := c.metrics.Snapshot().LastDispatch
		for _, stream := range streams {
			window := staleFactor * (stream.Interval + stream.Timeout)
			since := startedAt
			if ts, ok := last[stream.ID]; ok && ts.After(since) {
				since = ts
			}
			if age := now.Sub(since); age > window {
				reasons = append(reasons, fmt.Sprintf("stream %s stale (%s)", stream.ID, age.Round(time.Millisecond)))
			}
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready)
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
