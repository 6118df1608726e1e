package engine

import (
	"errors"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
	// ErrRunning rejects operations that need the log to be idle.
	ErrRunning       = errors.New("a run is in progress")
	ErrStaleHandle   = errors.New("handle does not belong to the current run")
	ErrRunInProgress = errors.New("another process owns the run")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	// PhaseStopped is a run that ended without Stop, after a sink failure or
	// cancellation of its context. Stop acknowledges it.
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunState is a snapshot of the controller.
type RunState struct {
	Phase       Phase
	RunID       string
	StartedAt   time.Time
	ConfigPath  string
	ResultsPath string
	Streams     int
	Err         error
}

// Active reports whether probes are being dispatched.
func (s RunState) Active() bool {
	return s.Phase == PhaseRunning
}

// Handle identifies one run returned by Start.
type Handle struct {
	RunID     string
	StartedAt time.Time
	run       *run
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed once every stream driver has returned and the run has been
// torn down.
func (h Handle) Done() <-chan struct{} {
	if h.run == nil {
		return closedChan
	}
	return h.run.done
}

// Err returns the error that ended the run. It is nil until Done is closed.
func (h Handle) Err() error {
	if h.run == nil {
		return nil
	}
	select {
	case <-h.run.done:
		return h.run.err
	default:
		return nil
	}
}
