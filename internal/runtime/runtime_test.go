package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingsantohq/pathprobe/internal/metrics"
	"github.com/pingsantohq/pathprobe/internal/probe"
	"github.com/pingsantohq/pathprobe/internal/resultlog"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

func instantProber() probe.Prober {
	return probe.Func(func(ctx context.Context, req probe.Request) probe.Outcome {
		return probe.Outcome{Status: types.StatusSuccess, Latency: 2 * time.Millisecond}
	})
}

func TestRuntimeWritesResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping_results.csv")
	sink, err := resultlog.Open(path, resultlog.ModeAppend)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sink.Close()

	store := metrics.NewStore()
	streams := []types.StreamConfig{
		{ID: "stream-0", Destination: "10.0.0.1", TrafficClass: 46, Label: "Voice", Interval: 10 * time.Millisecond},
		{ID: "stream-1", Destination: "10.0.0.2", TrafficClass: 0, Label: "Bulk", Interval: 10 * time.Millisecond},
	}
	rt := New(streams, instantProber(), sink, WithMetricsStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	wait := rt.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sink.Rows() < 6 {
		if time.Now().After(deadline) {
			cancel()
			wait()
			t.Fatalf("timeout waiting for results")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !store.Snapshot().RunActive {
		t.Fatalf("expected run active while drivers are running")
	}

	cancel()
	if err := wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := wait(); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if store.Snapshot().RunActive {
		t.Fatalf("expected run inactive after wait")
	}

	rows, err := resultlog.ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if uint64(len(rows)) != sink.Rows() {
		t.Fatalf("expected %d rows in log got %d", sink.Rows(), len(rows))
	}
	labels := map[string]bool{}
	for _, r := range rows {
		labels[r.Label] = true
	}
	if !labels["Voice"] || !labels["Bulk"] {
		t.Fatalf("expected rows from both streams got %v", labels)
	}
}

func TestRuntimeReportsSinkFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping_results.csv")
	sink, err := resultlog.Open(path, resultlog.ModeAppend)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sink.Close()

	store := metrics.NewStore()
	streams := []types.StreamConfig{{ID: "stream-0", Destination: "10.0.0.1", Label: "Voice", Interval: time.Hour}}
	rt := New(streams, instantProber(), sink, WithMetricsStore(store))

	wait := rt.Start(context.Background())
	err = wait()
	if !errors.Is(err, resultlog.ErrSink) {
		t.Fatalf("expected sink error got %v", err)
	}
	if store.Snapshot().SinkErrors != 1 {
		t.Fatalf("expected sink error metric")
	}
}

func TestRuntimeGlobalPPSCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping_results.csv")
	sink, err := resultlog.Open(path, resultlog.ModeAppend)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sink.Close()

	streams := []types.StreamConfig{
		{ID: "stream-0", Destination: "10.0.0.1", Label: "a", Interval: time.Millisecond},
		{ID: "stream-1", Destination: "10.0.0.2", Label: "b", Interval: time.Millisecond},
	}
	rt := New(streams, instantProber(), sink, WithGlobalPPSCap(20))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := rt.Start(ctx)(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n := sink.Rows(); n == 0 || n > 9 {
		t.Fatalf("expected capped row count got %d", n)
	}
}
