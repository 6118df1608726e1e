// Package engine owns the lifecycle of a measurement run: it starts the
// stream drivers against the result log, stops and joins them, and guards the
// log against being cleared while a run writes to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/pingsantohq/pathprobe/internal/config"
	"github.com/pingsantohq/pathprobe/internal/health"
	"github.com/pingsantohq/pathprobe/internal/logging"
	"github.com/pingsantohq/pathprobe/internal/metrics"
	"github.com/pingsantohq/pathprobe/internal/probe"
	"github.com/pingsantohq/pathprobe/internal/resultlog"
	"github.com/pingsantohq/pathprobe/internal/runtime"
	"github.com/pingsantohq/pathprobe/internal/scheduler"
	"github.com/pingsantohq/pathprobe/internal/stats"
	"github.com/pingsantohq/pathprobe/internal/worker"
)

type Dependencies struct {
	Clock   clock.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Store
	Checker *health.Checker
	// Prober defaults to an ICMP prober built from the engine config.
	Prober probe.Prober
	// PID is recorded as the owner of a run; defaults to os.Getpid().
	PID      int
	NewRunID func() string
}

// Controller is safe for concurrent use. At most one run is active at a time.
type Controller struct {
	clock    clock.Clock
	logger   logrus.FieldLogger
	metrics  *metrics.Store
	checker  *health.Checker
	prober   probe.Prober
	pid      int
	newRunID func() string

	mu      sync.RWMutex
	cfg     config.Config
	state   RunState
	current *run
}

type run struct {
	id       string
	stateDir string
	cancel   context.CancelFunc
	sink     *resultlog.Sink
	done     chan struct{}
	err      error
}

// New returns an idle controller. cfg supplies the log and state paths used by
// Clear and Stats until a run is started with another config.
func New(cfg config.Config, deps Dependencies) *Controller {
	c := &Controller{
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		checker:  deps.Checker,
		prober:   deps.Prober,
		pid:      deps.PID,
		newRunID: deps.NewRunID,
		cfg:      cfg,
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.pid <= 0 {
		c.pid = os.Getpid()
	}
	if c.newRunID == nil {
		c.newRunID = func() string { return uuid.NewString() }
	}
	c.state = RunState{
		Phase:       PhaseIdle,
		ConfigPath:  cfg.Path,
		ResultsPath: cfg.Engine.ResultsPath,
	}
	return c
}

// Start validates cfg, claims the run record, opens the result log and
// launches one driver per stream. The run lasts until Stop or until ctx is
// cancelled.
func (c *Controller) Start(ctx context.Context, cfg config.Config) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		return Handle{}, ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return Handle{}, err
	}

	runID := c.newRunID()
	startedAt := c.clock.Now()
	streams := cfg.StreamConfigs()
	logger := c.logger.WithField("run_id", runID)

	if err := c.claimRecord(ctx, cfg, config.State{
		PID:          c.pid,
		ProcessStart: ProcessIdentity(c.pid),
		RunID:        runID,
		StartedAt:    startedAt,
		ConfigPath:   cfg.Path,
		ResultsPath:  cfg.Engine.ResultsPath,
		Streams:      len(streams),
	}, logger); err != nil {
		return Handle{}, err
	}

	mode := resultlog.ModeAppend
	if cfg.Engine.ResultsMode == config.ResultsTruncate {
		mode = resultlog.ModeTruncate
	}
	sink, err := resultlog.Open(cfg.Engine.ResultsPath, mode)
	if err != nil {
		return Handle{}, multierr.Append(err, config.RemoveState(ctx, cfg.Engine.StateDir))
	}

	rt := runtime.New(streams, c.proberFor(cfg), sink,
		runtime.WithMetricsStore(c.metrics),
		runtime.WithGlobalPPSCap(ppsCap(cfg)),
		runtime.WithSchedulerOptions(
			scheduler.WithErrorRetryAfter(cfg.Engine.ErrorRetryAfter.Duration()),
			scheduler.WithLogger(logger),
		),
		runtime.WithWorkerOptions(
			worker.WithLogger(logger),
		),
	)

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:       runID,
		stateDir: cfg.Engine.StateDir,
		cancel:   cancel,
		sink:     sink,
		done:     make(chan struct{}),
	}
	if c.checker != nil {
		c.checker.ObserveRunStart(startedAt, streams)
	}
	wait := rt.Start(runCtx)
	go c.watch(r, wait, logger)

	c.cfg = cfg
	c.current = r
	c.state = RunState{
		Phase:       PhaseRunning,
		RunID:       runID,
		StartedAt:   startedAt,
		ConfigPath:  cfg.Path,
		ResultsPath: cfg.Engine.ResultsPath,
		Streams:     len(streams),
	}
	logger.WithFields(logrus.Fields{
		"streams": len(streams),
		"results": cfg.Engine.ResultsPath,
		"mode":    string(cfg.Engine.ResultsMode),
	}).Info("run started")

	return Handle{RunID: runID, StartedAt: startedAt, run: r}, nil
}

func (c *Controller) claimRecord(ctx context.Context, cfg config.Config, record config.State, logger logrus.FieldLogger) error {
	existing, live, err := LiveRun(ctx, cfg.Engine.StateDir)
	if err != nil {
		return fmt.Errorf("inspect run record: %w", err)
	}
	if live {
		return fmt.Errorf("%w: pid %d run %s", ErrRunInProgress, existing.PID, existing.RunID)
	}
	if existing.RunID != "" {
		logger.WithFields(logrus.Fields{
			"stale_pid":    existing.PID,
			"stale_run_id": existing.RunID,
		}).Warn("removing run record left by a dead process")
		if err := config.RemoveState(ctx, cfg.Engine.StateDir); err != nil {
			return err
		}
	}
	if err := config.SaveState(ctx, cfg.Engine.StateDir, record); err != nil {
		if errors.Is(err, config.ErrStateExists) {
			return fmt.Errorf("%w: %v", ErrRunInProgress, err)
		}
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

func (c *Controller) proberFor(cfg config.Config) probe.Prober {
	if c.prober != nil {
		return c.prober
	}
	var opts []probe.Option
	if cfg.Engine.Unprivileged {
		opts = append(opts, probe.WithUnprivileged())
	}
	return probe.NewICMPProber(opts...)
}

func ppsCap(cfg config.Config) int {
	if !cfg.Engine.RateGovernance.Enabled {
		return 0
	}
	return cfg.Engine.RateGovernance.GlobalPPSCap
}

// watch tears the run down once its drivers return, whoever ended it.
func (c *Controller) watch(r *run, wait func() error, logger logrus.FieldLogger) {
	runErr := wait()
	if runErr != nil {
		logger.WithError(runErr).Error("run halted")
		if c.checker != nil {
			c.checker.ObserveSinkFailure(runErr)
		}
	}
	r.cancel()

	err := multierr.Combine(
		runErr,
		r.sink.Close(),
		config.RemoveState(context.Background(), r.stateDir),
	)
	r.err = err

	c.mu.Lock()
	if c.current == r && c.state.Phase == PhaseRunning {
		c.state.Phase = PhaseStopped
		c.state.Err = err
	}
	c.mu.Unlock()

	if c.checker != nil {
		c.checker.ObserveRunStop()
	}
	logger.WithField("rows", r.sink.Rows()).Info("run ended")
	close(r.done)
}

// Stop cancels the run identified by h, waits for every in-flight probe to
// be logged and returns the error that ended the run, if any.
func (c *Controller) Stop(h Handle) error {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()

	if r == nil {
		return ErrNotRunning
	}
	if h.RunID != r.id {
		return ErrStaleHandle
	}

	r.cancel()
	<-r.done

	c.mu.Lock()
	if c.current == r {
		c.current = nil
		c.state = RunState{
			Phase:       PhaseIdle,
			ConfigPath:  c.state.ConfigPath,
			ResultsPath: c.state.ResultsPath,
		}
	}
	c.mu.Unlock()
	return r.err
}

// Clear deletes the result log. It fails with ErrRunning while this or
// another live process runs against the state dir. Clearing a missing log
// succeeds.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		return ErrRunning
	}
	record, live, err := LiveRun(context.Background(), c.cfg.Engine.StateDir)
	if err != nil {
		return fmt.Errorf("inspect run record: %w", err)
	}
	if live {
		return fmt.Errorf("%w: pid %d run %s", ErrRunning, record.PID, record.RunID)
	}
	if err := resultlog.Remove(c.cfg.Engine.ResultsPath); err != nil {
		return err
	}
	c.logger.WithField("results", c.cfg.Engine.ResultsPath).Info("result log cleared")
	return nil
}

// Stats aggregates the result log. It may be called during a run.
func (c *Controller) Stats(opts ...stats.Option) (stats.Summary, error) {
	c.mu.RLock()
	path := c.cfg.Engine.ResultsPath
	c.mu.RUnlock()
	return stats.FromLog(path, opts...)
}

func (c *Controller) State() RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
