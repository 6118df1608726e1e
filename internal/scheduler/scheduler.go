package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/pathprobe/internal/logging"
	"github.com/pingsantohq/pathprobe/internal/worker"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

// JobRunner executes one probe job. A non-nil error means the result could
// not be persisted and the run must end.
type JobRunner interface {
	Run(ctx context.Context, job worker.Job) (types.ProbeResult, error)
}

// Scheduler drives every stream on its own goroutine. Each driver sleeps its
// stream's interval after a probe completes, so a slow stream never holds
// back another.
type Scheduler struct {
	runner          JobRunner
	clock           clock.Clock
	limiter         *rate.Limiter
	errorRetryAfter time.Duration
	logger          logrus.FieldLogger
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRateLimiter caps dispatches across all streams.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

// WithErrorRetryAfter sets the delay after an Error outcome. Zero keeps the
// stream interval.
func WithErrorRetryAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.errorRetryAfter = d
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(runner JobRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		clock:  clock.New(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts one driver per stream and blocks until all of them return.
// Cancelling ctx ends the run cleanly and Run returns nil. The first
// persistence failure cancels the remaining drivers and is returned.
func (s *Scheduler) Run(ctx context.Context, streams []types.StreamConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range streams {
		stream := stream
		g.Go(func() error {
			return s.drive(gctx, stream)
		})
	}
	return g.Wait()
}

func (s *Scheduler) drive(ctx context.Context, stream types.StreamConfig) error {
	logger := s.logger.WithFields(logrus.Fields{
		"stream": stream.ID,
		"label":  stream.Label,
	})
	logger.WithField("interval", stream.Interval).Debug("stream driver started")
	defer logger.Debug("stream driver stopped")

	next := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		result, err := s.runner.Run(ctx, worker.Job{Stream: stream, ScheduledFor: next})
		if err != nil {
			return fmt.Errorf("stream %s: %w", stream.ID, err)
		}

		delay := stream.Interval
		if result.Status == types.StatusError && s.errorRetryAfter > 0 {
			delay = s.errorRetryAfter
		}
		next = s.clock.Now().Add(delay)

		timer := s.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
