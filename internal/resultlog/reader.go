package resultlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

// ScanStats summarizes a pass over the log.
type ScanStats struct {
	Rows    int
	Skipped int
}

// Scan calls fn for every well-formed row in file order. Header rows and
// malformed rows are skipped, so a log that is still being appended to can be
// read safely. A missing file scans as empty.
func Scan(path string, fn func(types.ProbeResult) error) (ScanStats, error) {
	var stats ScanStats

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("open result log %q: %w", path, err)
	}
	defer f.Close()

	stats, err = ScanReader(f, fn)
	if err != nil {
		return stats, fmt.Errorf("scan result log %q: %w", path, err)
	}
	return stats, nil
}

func ScanReader(r io.Reader, fn func(types.ProbeResult) error) (ScanStats, error) {
	var stats ScanStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				continue
			}
			return stats, err
		}
		if isHeader(record) {
			continue
		}
		result, err := ParseRow(record)
		if err != nil {
			stats.Skipped++
			continue
		}
		stats.Rows++
		if err := fn(result); err != nil {
			return stats, err
		}
	}
}

// ReadAll returns every well-formed row of the log.
func ReadAll(path string) ([]types.ProbeResult, error) {
	var results []types.ProbeResult
	_, err := Scan(path, func(r types.ProbeResult) error {
		results = append(results, r)
		return nil
	})
	return results, err
}
