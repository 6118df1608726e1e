package stats

import (
	"math"
	"sort"
	"time"

	"github.com/pingsantohq/pathprobe/internal/resultlog"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

// LatencyStats covers the successful probes of one label, in milliseconds.
type LatencyStats struct {
	Min     float64 `json:"min_ms" yaml:"min_ms"`
	Avg     float64 `json:"avg_ms" yaml:"avg_ms"`
	Max     float64 `json:"max_ms" yaml:"max_ms"`
	Samples int     `json:"samples" yaml:"samples"`
}

// StatusCounts tallies every probe outcome of one label.
type StatusCounts struct {
	Success int `json:"success" yaml:"success"`
	Failure int `json:"failure" yaml:"failure"`
	Error   int `json:"error" yaml:"error"`
}

func (c StatusCounts) Total() int {
	return c.Success + c.Failure + c.Error
}

// Summary is recomputed from the log on every call and never stored.
// Latency omits labels without a single successful probe.
type Summary struct {
	Latency map[string]LatencyStats `json:"latency" yaml:"latency"`
	Counts  map[string]StatusCounts `json:"counts" yaml:"counts"`
	Skipped int                     `json:"skipped_rows" yaml:"skipped_rows"`
}

// Labels returns every label seen, sorted.
func (s Summary) Labels() []string {
	labels := make([]string, 0, len(s.Counts))
	for label := range s.Counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

type accumulator struct {
	min, max, sum float64
	n             int
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

// Aggregate groups rows by label.
func Aggregate(rows []types.ProbeResult) Summary {
	agg := newAggregator()
	for _, r := range rows {
		agg.add(r)
	}
	return agg.summary()
}

type aggregator struct {
	acc    map[string]*accumulator
	counts map[string]StatusCounts
}

func newAggregator() *aggregator {
	return &aggregator{
		acc:    make(map[string]*accumulator),
		counts: make(map[string]StatusCounts),
	}
}

func (g *aggregator) add(r types.ProbeResult) {
	c := g.counts[r.Label]
	switch r.Status {
	case types.StatusSuccess:
		c.Success++
		if math.IsNaN(r.LatencyMs) || math.IsInf(r.LatencyMs, 0) {
			break
		}
		a, ok := g.acc[r.Label]
		if !ok {
			a = &accumulator{}
			g.acc[r.Label] = a
		}
		a.add(r.LatencyMs)
	case types.StatusFailure:
		c.Failure++
	case types.StatusError:
		c.Error++
	default:
		return
	}
	g.counts[r.Label] = c
}

func (g *aggregator) summary() Summary {
	s := Summary{
		Latency: make(map[string]LatencyStats, len(g.acc)),
		Counts:  g.counts,
	}
	for label, a := range g.acc {
		s.Latency[label] = LatencyStats{
			Min:     a.min,
			Avg:     a.sum / float64(a.n),
			Max:     a.max,
			Samples: a.n,
		}
	}
	return s
}

type options struct {
	since time.Time
	lastN int
}

type Option func(*options)

// WithSince limits the scan to rows dispatched at or after t.
func WithSince(t time.Time) Option {
	return func(o *options) {
		o.since = t
	}
}

// WithLastN limits the scan to the n most recent rows of the log.
func WithLastN(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.lastN = n
		}
	}
}

// FromLog scans the log at path. Malformed rows are counted in Skipped and
// otherwise ignored; a missing log yields an empty summary.
func FromLog(path string, opts ...Option) (Summary, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		ring []types.ProbeResult
		next int
		agg  = newAggregator()
	)
	if o.lastN > 0 {
		ring = make([]types.ProbeResult, 0, o.lastN)
	}

	scan, err := resultlog.Scan(path, func(r types.ProbeResult) error {
		if !o.since.IsZero() && r.Timestamp.Before(o.since) {
			return nil
		}
		if o.lastN == 0 {
			agg.add(r)
			return nil
		}
		if len(ring) < o.lastN {
			ring = append(ring, r)
			return nil
		}
		ring[next] = r
		next = (next + 1) % o.lastN
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	for _, r := range ring {
		agg.add(r)
	}
	s := agg.summary()
	s.Skipped = scan.Skipped
	return s, nil
}
