package resultlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

// ErrSink marks failures to persist a result. A run cannot continue past one.
var ErrSink = errors.New("result sink failure")

// SinkError describes which step of an append failed.
type SinkError struct {
	Path string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s result log %q: %v", e.Op, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSink }

// Mode decides what Open does with rows already in the log.
type Mode int

const (
	ModeAppend Mode = iota
	ModeTruncate
)

// Sink appends results to the log. Appends are serialized; each one is
// flushed and synced before Append returns.
type Sink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	size   int64
	rows   uint64
}

func Open(path string, mode Mode) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &SinkError{Path: path, Op: "create dir for", Err: err}
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if mode == ModeTruncate {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &SinkError{Path: path, Op: "open", Err: err}
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &SinkError{Path: path, Op: "stat", Err: err}
	}

	return &Sink{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
		size:   info.Size(),
	}, nil
}

// Append writes one row, writing the header first if the log is empty.
func (s *Sink) Append(result types.ProbeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return &SinkError{Path: s.path, Op: "append to", Err: fs.ErrClosed}
	}

	if s.size == 0 {
		if err := s.writer.Write(Header); err != nil {
			return &SinkError{Path: s.path, Op: "write header to", Err: err}
		}
	}
	if err := s.writer.Write(Row(result)); err != nil {
		return &SinkError{Path: s.path, Op: "write row to", Err: err}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return &SinkError{Path: s.path, Op: "flush", Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &SinkError{Path: s.path, Op: "sync", Err: err}
	}

	info, err := s.file.Stat()
	if err != nil {
		return &SinkError{Path: s.path, Op: "stat", Err: err}
	}
	s.size = info.Size()
	s.rows++
	return nil
}

// Rows reports how many rows this sink appended.
func (s *Sink) Rows() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return &SinkError{Path: s.path, Op: "close", Err: err}
	}
	return nil
}

// Remove deletes the log. A missing log is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove result log %q: %w", path, err)
	}
	return nil
}
