package resultlog

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

const mixedLog = `Timestamp,Latency (ms),Success,Target IP Address,DSCP,Label
2024-06-01 12:00:00,10.5,Success,10.0.0.1,46,Voice
2024-06-01 12:00:01,,Failure,10.0.0.1,46,Voice
garbage line
2024-06-01 12:00:02,abc,Success,10.0.0.1,46,Voice
2024-06-01 12:00:03,,Unknown,10.0.0.1,46,Voice
not-a-time,1.0,Success,10.0.0.1,46,Voice
2024-06-01 12:00:04,7,Failure,10.0.0.1,46,Voice
2024-06-01 12:00:05.250,20.25,Success,10.0.0.2,0,"Best, Effort"
2024-06-01 12:00:06,5.0,Succ`

func TestScanSkipsMalformedRows(t *testing.T) {
	var rows []types.ProbeResult
	stats, err := ScanReader(strings.NewReader(mixedLog), func(r types.ProbeResult) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	if stats.Rows != 3 {
		t.Fatalf("expected 3 good rows got %d", stats.Rows)
	}
	if stats.Skipped != 6 {
		t.Fatalf("expected 6 skipped rows got %d", stats.Skipped)
	}
	if rows[2].Label != "Best, Effort" || rows[2].LatencyMs != 20.25 {
		t.Fatalf("unexpected quoted row: %+v", rows[2])
	}
	want := time.Date(2024, 6, 1, 12, 0, 5, 250*int(time.Millisecond), time.Local)
	if !rows[2].Timestamp.Equal(want) {
		t.Fatalf("expected fractional timestamp %s got %s", want, rows[2].Timestamp)
	}
	if rows[1].Status != types.StatusFailure || rows[1].LatencyMs != 0 {
		t.Fatalf("unexpected failure row: %+v", rows[1])
	}
}

func TestScanMissingFile(t *testing.T) {
	stats, err := Scan(filepath.Join(t.TempDir(), "absent.csv"), func(types.ProbeResult) error {
		t.Fatalf("callback must not run")
		return nil
	})
	if err != nil {
		t.Fatalf("expected missing log to scan as empty, got %v", err)
	}
	if stats.Rows != 0 {
		t.Fatalf("expected no rows got %d", stats.Rows)
	}
}

func TestRowLeavesLatencyEmptyOnFailure(t *testing.T) {
	row := Row(types.ProbeResult{
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local),
		LatencyMs:   99,
		Status:      types.StatusError,
		Destination: "10.0.0.1",
		Label:       "x",
	})
	if row[1] != "" {
		t.Fatalf("expected empty latency got %q", row[1])
	}
	if row[2] != "Error" {
		t.Fatalf("expected literal status got %q", row[2])
	}
}

func TestRowWritesLocalWallClock(t *testing.T) {
	instant := time.Date(2024, 6, 1, 10, 15, 30, 125*int(time.Millisecond), time.UTC)
	row := Row(types.ProbeResult{Timestamp: instant, Status: types.StatusFailure, Destination: "10.0.0.1", Label: "x"})

	if want := instant.In(time.Local).Format(TimestampLayout); row[0] != want {
		t.Fatalf("expected local wall-clock %q got %q", want, row[0])
	}
	if strings.ContainsAny(row[0], "Z+") {
		t.Fatalf("timestamp must not carry a zone: %q", row[0])
	}

	parsed, err := ParseRow(row)
	if err != nil {
		t.Fatalf("ParseRow: %v", err)
	}
	if parsed.Timestamp.Location() != time.Local {
		t.Fatalf("expected timestamp read back in local time got %s", parsed.Timestamp.Location())
	}
}
