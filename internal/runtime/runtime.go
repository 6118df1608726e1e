package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pingsantohq/pathprobe/internal/metrics"
	"github.com/pingsantohq/pathprobe/internal/probe"
	"github.com/pingsantohq/pathprobe/internal/scheduler"
	"github.com/pingsantohq/pathprobe/internal/worker"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

type Option func(*config)

type config struct {
	schedulerOpts []scheduler.Option
	workerOpts    []worker.RunnerOption
	metricsStore  *metrics.Store
	ppsCap        int
}

func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(c *config) {
		c.schedulerOpts = append(c.schedulerOpts, opts...)
	}
}

func WithWorkerOptions(opts ...worker.RunnerOption) Option {
	return func(c *config) {
		c.workerOpts = append(c.workerOpts, opts...)
	}
}

func WithMetricsStore(store *metrics.Store) Option {
	return func(c *config) {
		c.metricsStore = store
	}
}

// WithGlobalPPSCap limits probe dispatches across all streams to pps per
// second. Zero or less leaves dispatch unlimited.
func WithGlobalPPSCap(pps int) Option {
	return func(c *config) {
		c.ppsCap = pps
	}
}

// Runtime wires the probe runner and the stream scheduler for one run.
type Runtime struct {
	streams   []types.StreamConfig
	runner    *worker.Runner
	scheduler *scheduler.Scheduler
	metrics   *metrics.Store
}

func New(streams []types.StreamConfig, prober probe.Prober, sink worker.ResultSink, opts ...Option) *Runtime {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	workerOpts := append([]worker.RunnerOption(nil), cfg.workerOpts...)
	if cfg.metricsStore != nil {
		workerOpts = append(workerOpts, worker.WithMetrics(cfg.metricsStore))
	}
	runner := worker.NewRunner(prober, sink, workerOpts...)

	schedOpts := append([]scheduler.Option(nil), cfg.schedulerOpts...)
	if cfg.ppsCap > 0 {
		limiter := rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.ppsCap)), 1)
		schedOpts = append(schedOpts, scheduler.WithRateLimiter(limiter))
	}

	return &Runtime{
		streams:   append([]types.StreamConfig(nil), streams...),
		runner:    runner,
		scheduler: scheduler.New(runner, schedOpts...),
		metrics:   cfg.metricsStore,
	}
}

// Start launches every stream driver. The returned function blocks until all
// of them have returned and reports the error that ended the run, if any.
func (r *Runtime) Start(ctx context.Context) func() error {
	if r.metrics != nil {
		r.metrics.SetRunActive(true)
	}
	done := make(chan error, 1)
	go func() {
		done <- r.scheduler.Run(ctx, r.streams)
	}()

	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() {
			err = <-done
			if r.metrics != nil {
				r.metrics.SetRunActive(false)
			}
		})
		return err
	}
}
