// Package resultlog owns the durable CSV log of probe outcomes: a single
// mutex-guarded appender and a tolerant reader for concurrent consumers.
package resultlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

const (
	// TimestampLayout is written for every row, in local wall-clock time
	// with no UTC offset. Rows written with whole seconds by older tools
	// still parse because Go accepts a fractional second after the seconds
	// field when parsing. Instants inside a repeated daylight-saving hour
	// format to the same text, so they read back as the earlier of the two
	// and time windows over that hour are approximate.
	TimestampLayout = "2006-01-02 15:04:05.000"
	parseLayout     = "2006-01-02 15:04:05"
)

// Header is the column row written once at the top of an empty log.
var Header = []string{"Timestamp", "Latency (ms)", "Success", "Target IP Address", "DSCP", "Label"}

const columnCount = 6

var errMalformedRow = errors.New("malformed row")

// Row renders a result in column order. Latency is empty unless the probe
// succeeded.
func Row(r types.ProbeResult) []string {
	latency := ""
	if r.Succeeded() {
		latency = strconv.FormatFloat(r.LatencyMs, 'f', 2, 64)
	}
	return []string{
		r.Timestamp.Format(TimestampLayout),
		latency,
		string(r.Status),
		r.Destination,
		strconv.Itoa(r.TrafficClass),
		r.Label,
	}
}

// ParseRow is the inverse of Row.
func ParseRow(record []string) (types.ProbeResult, error) {
	var r types.ProbeResult
	if len(record) != columnCount {
		return r, fmt.Errorf("%w: %d columns", errMalformedRow, len(record))
	}

	ts, err := time.ParseInLocation(parseLayout, strings.TrimSpace(record[0]), time.Local)
	if err != nil {
		return r, fmt.Errorf("%w: timestamp %q", errMalformedRow, record[0])
	}

	status, ok := types.ParseStatus(strings.TrimSpace(record[2]))
	if !ok {
		return r, fmt.Errorf("%w: status %q", errMalformedRow, record[2])
	}

	var latency float64
	rawLatency := strings.TrimSpace(record[1])
	if status == types.StatusSuccess {
		latency, err = strconv.ParseFloat(rawLatency, 64)
		if err != nil {
			return r, fmt.Errorf("%w: latency %q", errMalformedRow, record[1])
		}
	} else if rawLatency != "" {
		return r, fmt.Errorf("%w: latency on %s row", errMalformedRow, status)
	}

	dscp, err := strconv.Atoi(strings.TrimSpace(record[4]))
	if err != nil {
		return r, fmt.Errorf("%w: dscp %q", errMalformedRow, record[4])
	}

	return types.ProbeResult{
		Timestamp:    ts,
		LatencyMs:    latency,
		Status:       status,
		Destination:  record[3],
		TrafficClass: dscp,
		Label:        record[5],
	}, nil
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.TrimPrefix(record[0], "\ufeff") == Header[0]
}
