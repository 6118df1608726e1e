package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const StateFileName = "run.yaml"

// ErrStateExists is returned by SaveState when another run already recorded
// itself in the state directory.
var ErrStateExists = errors.New("run state already exists")

// State records which process owns the active run. ProcessStart tells the
// owner apart from a later process that reused its pid; it is empty where the
// platform cannot report it.
type State struct {
	PID          int       `yaml:"pid"`
	ProcessStart string    `yaml:"process_start,omitempty"`
	RunID        string    `yaml:"run_id"`
	StartedAt    time.Time `yaml:"started_at"`
	ConfigPath   string    `yaml:"config_path"`
	ResultsPath  string    `yaml:"results_path"`
	Streams      int       `yaml:"streams"`
}

func StatePath(dir string) string {
	return filepath.Join(dir, StateFileName)
}

// LoadState reads the run record. A missing record yields an error matching
// fs.ErrNotExist.
func LoadState(ctx context.Context, dir string) (State, error) {
	var state State
	path := StatePath(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("read state file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse state file %q: %w", path, err)
	}

	return state, nil
}

// SaveState writes a new run record and refuses to overwrite an existing one.
func SaveState(ctx context.Context, dir string, state State) error {
	path := StatePath(dir)
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("state file %q: %w", path, ErrStateExists)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check state file %q: %w", path, err)
	}
	return UpdateState(ctx, dir, state)
}

// UpdateState replaces the run record unconditionally.
func UpdateState(ctx context.Context, dir string, state State) error {
	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return WriteFileAtomic(StatePath(dir), data, 0o600)
}

// RemoveState deletes the run record; a missing record is not an error.
func RemoveState(ctx context.Context, dir string) error {
	path := StatePath(dir)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file %q: %w", path, err)
	}
	return nil
}
