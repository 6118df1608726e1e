package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

func ok(label string, ms float64) types.ProbeResult {
	return types.ProbeResult{Label: label, LatencyMs: ms, Status: types.StatusSuccess}
}

func TestAggregateMinAvgMax(t *testing.T) {
	rows := []types.ProbeResult{
		ok("L", 10), ok("L", 20), ok("L", 30),
		{Label: "L", Status: types.StatusFailure},
	}
	s := Aggregate(rows)

	got, found := s.Latency["L"]
	if !found {
		t.Fatalf("expected stats for L")
	}
	if got.Min != 10 || got.Avg != 20 || got.Max != 30 || got.Samples != 3 {
		t.Fatalf("unexpected stats: %+v", got)
	}
	if c := s.Counts["L"]; c.Success != 3 || c.Failure != 1 || c.Total() != 4 {
		t.Fatalf("unexpected counts: %+v", c)
	}
}

func TestAggregateOmitsLabelsWithoutSuccess(t *testing.T) {
	rows := []types.ProbeResult{
		{Label: "Dead", Status: types.StatusFailure},
		{Label: "Dead", Status: types.StatusError},
		ok("Alive", 5),
	}
	s := Aggregate(rows)
	if _, found := s.Latency["Dead"]; found {
		t.Fatalf("label without successes must be omitted: %+v", s.Latency)
	}
	if c := s.Counts["Dead"]; c.Failure != 1 || c.Error != 1 {
		t.Fatalf("unexpected counts for Dead: %+v", c)
	}
	labels := s.Labels()
	if len(labels) != 2 || labels[0] != "Alive" || labels[1] != "Dead" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	if len(s.Latency) != 0 || len(s.Counts) != 0 {
		t.Fatalf("expected empty summary got %+v", s)
	}
}

const logBody = `Timestamp,Latency (ms),Success,Target IP Address,DSCP,Label
2024-06-01 12:00:00,10,Success,10.0.0.1,46,Voice
2024-06-01 12:00:01,30,Success,10.0.0.1,46,Voice
broken,row
2024-06-01 12:00:02,,Failure,10.0.0.2,0,Bulk
2024-06-01 12:00:03,20,Success,10.0.0.1,46,Voice
2024-06-01 12:00:04,40,Success,10.0.0.1,46,Voice
`

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ping_results.csv")
	if err := os.WriteFile(path, []byte(logBody), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestFromLog(t *testing.T) {
	s, err := FromLog(writeLog(t))
	if err != nil {
		t.Fatalf("FromLog: %v", err)
	}
	voice := s.Latency["Voice"]
	if voice.Min != 10 || voice.Max != 40 || voice.Avg != 25 || voice.Samples != 4 {
		t.Fatalf("unexpected voice stats: %+v", voice)
	}
	if _, found := s.Latency["Bulk"]; found {
		t.Fatalf("Bulk has no successes and must be omitted")
	}
	if s.Skipped != 1 {
		t.Fatalf("expected one skipped row got %d", s.Skipped)
	}
}

func TestFromLogWindows(t *testing.T) {
	path := writeLog(t)

	since := time.Date(2024, 6, 1, 12, 0, 2, 0, time.Local)
	s, err := FromLog(path, WithSince(since))
	if err != nil {
		t.Fatalf("FromLog since: %v", err)
	}
	if v := s.Latency["Voice"]; v.Samples != 2 || v.Min != 20 || v.Max != 40 {
		t.Fatalf("unexpected windowed stats: %+v", v)
	}

	s, err = FromLog(path, WithLastN(2))
	if err != nil {
		t.Fatalf("FromLog last: %v", err)
	}
	if v := s.Latency["Voice"]; v.Samples != 2 || v.Avg != 30 {
		t.Fatalf("unexpected last-n stats: %+v", v)
	}
	if _, found := s.Counts["Bulk"]; found {
		t.Fatalf("Bulk row is outside the last two rows")
	}
}

func TestFromLogMissing(t *testing.T) {
	s, err := FromLog(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("FromLog missing: %v", err)
	}
	if len(s.Latency) != 0 {
		t.Fatalf("expected empty summary")
	}
}
