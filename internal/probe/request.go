package probe

import (
	"context"
	"math"
	"time"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

const DefaultTimeout = time.Second

type Request struct {
	Destination  string
	TrafficClass int
	Timeout      time.Duration
}

// Outcome is the classified result of one probe. Latency is set only for
// StatusSuccess; Err carries the cause of a StatusError.
type Outcome struct {
	Status  types.Status
	Latency time.Duration
	Err     error
}

// LatencyMs reports the latency in milliseconds with two decimals.
func (o Outcome) LatencyMs() float64 {
	return RoundMillis(o.Latency)
}

// RoundMillis converts d to milliseconds rounded to two decimal places.
func RoundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}

type Prober interface {
	Probe(ctx context.Context, req Request) Outcome
}

// Func adapts a plain function to the Prober interface.
type Func func(ctx context.Context, req Request) Outcome

func (f Func) Probe(ctx context.Context, req Request) Outcome {
	return f(ctx, req)
}

func success(latency time.Duration) Outcome {
	return Outcome{Status: types.StatusSuccess, Latency: latency}
}

func failure() Outcome {
	return Outcome{Status: types.StatusFailure}
}

func failed(err error) Outcome {
	return Outcome{Status: types.StatusError, Err: err}
}
