package worker

import (
	"time"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

// Job is one scheduled probe of a stream.
type Job struct {
	Stream       types.StreamConfig
	ScheduledFor time.Time
}
